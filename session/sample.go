// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session

import (
	"sync"
	"time"

	"github.com/labelmesh/labelrounds/consensus"
	"github.com/labelmesh/labelrounds/models"
)

// Outcome is the finalized result of a sample voting session. Label is nil
// when the session closed without a consensus label (for example a timeout
// with no votes); such samples are excluded from the labeled set.
type Outcome struct {
	Label  *string
	Reason string
}

// SampleSession collects votes for one sample until every eligible voter
// has voted, the deadline passes, or the coordinator intervenes.
//
// The state machine is active -> finalized, terminal. All mutations go
// through the session mutex, so SubmitVote and CheckTimeout can race from
// different goroutines and exactly one finalization reason is recorded.
type SampleSession struct {
	mu sync.Mutex

	sampleID  string
	startedAt time.Time
	deadline  time.Time

	rule              consensus.Rule
	unanimityFallback bool
	minVotes          int

	state    string
	eligible map[string]uint64 // voter address -> snapshotted weight
	votes    map[string]models.Vote
	order    []models.Vote // arrival order, drives tie-breaking
	outcome  Outcome
}

func newSampleSession(sampleID string, eligible map[string]uint64, rule consensus.Rule, unanimityFallback bool, minVotes int, startedAt, deadline time.Time) *SampleSession {
	return &SampleSession{
		sampleID:          sampleID,
		startedAt:         startedAt,
		deadline:          deadline,
		rule:              rule,
		unanimityFallback: unanimityFallback,
		minVotes:          minVotes,
		state:             models.SampleActive,
		eligible:          eligible,
		votes:             make(map[string]models.Vote, len(eligible)),
	}
}

// SubmitVote records a vote at the given arrival time. It returns true
// when the vote was the last eligible voter's and the session finalized on
// the fast path, without waiting for the deadline.
func (s *SampleSession) SubmitVote(voter, label string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.SampleActive {
		return false, ErrNotActive
	}
	weight, ok := s.eligible[voter]
	if !ok {
		return false, ErrUnauthorized
	}
	if _, voted := s.votes[voter]; voted {
		return false, ErrDuplicateVote
	}

	v := models.Vote{
		SampleID:  s.sampleID,
		Voter:     voter,
		Label:     label,
		Weight:    weight,
		Timestamp: now,
	}
	s.votes[voter] = v
	s.order = append(s.order, v)

	if len(s.votes) == len(s.eligible) {
		s.finalizeLocked(models.ReasonAllVoted)
		return true, nil
	}
	return false, nil
}

// CheckTimeout finalizes the session with whatever votes were collected
// once the deadline has passed. Returns true if this call finalized it.
func (s *SampleSession) CheckTimeout(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.SampleActive || now.Before(s.deadline) {
		return false
	}
	s.finalizeLocked(models.ReasonTimeout)
	return true
}

// Finalize forces finalization with the given reason. Idempotent: once
// finalized, the recorded outcome is returned and nothing is recomputed.
func (s *SampleSession) Finalize(reason string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.SampleFinalized {
		s.finalizeLocked(reason)
	}
	return s.outcome
}

// finalizeLocked runs consensus evaluation exactly once. Caller holds s.mu.
func (s *SampleSession) finalizeLocked(reason string) {
	out := Outcome{Reason: reason}

	if len(s.order) >= s.minVotes {
		label, ok := consensus.Evaluate(s.order, s.rule)
		if !ok && s.rule == consensus.Unanimity && s.unanimityFallback && reason == models.ReasonTimeout {
			// Deadline expired without agreement; fall back to weight.
			label, ok = consensus.Evaluate(s.order, consensus.WeightedMajority)
		}
		if ok {
			out.Label = &label
		}
	}

	s.outcome = out
	s.state = models.SampleFinalized
}

// restore rebuilds persisted state after a process restart. Votes are
// reapplied in their recorded order; a persisted outcome is taken as-is so
// recovery never re-runs consensus with a different reason.
func (s *SampleSession) restore(votes []models.Vote, outcome *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range votes {
		if _, ok := s.eligible[v.Voter]; !ok {
			// The voter was eligible when the vote was recorded.
			s.eligible[v.Voter] = v.Weight
		}
		s.votes[v.Voter] = v
		s.order = append(s.order, v)
	}
	if outcome != nil {
		s.outcome = *outcome
		s.state = models.SampleFinalized
	}
}

// Accessors. Each takes the lock briefly and returns copies.

func (s *SampleSession) SampleID() string { return s.sampleID }

func (s *SampleSession) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SampleSession) Deadline() time.Time { return s.deadline }

func (s *SampleSession) StartedAt() time.Time { return s.startedAt }

// Outcome returns the finalized outcome; the zero Outcome while active.
func (s *SampleSession) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Vote returns the recorded vote from the given voter, if any.
func (s *SampleSession) Vote(voter string) (models.Vote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[voter]
	return v, ok
}

// Votes returns the recorded votes in arrival order.
func (s *SampleSession) Votes() []models.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Vote, len(s.order))
	copy(out, s.order)
	return out
}

// Tally returns the live per-label vote counts and weight sums.
func (s *SampleSession) Tally() models.TallyResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	weights := make(map[string]uint64)
	for _, v := range s.order {
		counts[v.Label]++
		weights[v.Label] += v.Weight
	}
	return models.TallyResponse{
		SampleID: s.sampleID,
		State:    s.state,
		Counts:   counts,
		Weights:  weights,
		Voted:    len(s.order),
		Eligible: len(s.eligible),
	}
}

// Summary returns the compact per-sample view used by the status endpoint.
func (s *SampleSession) Summary() models.SampleSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := models.SampleSummary{
		SampleID: s.sampleID,
		State:    s.state,
		Votes:    len(s.order),
	}
	if s.state == models.SampleFinalized {
		sum.FinalLabel = s.outcome.Label
		sum.Reason = s.outcome.Reason
	}
	return sum
}
