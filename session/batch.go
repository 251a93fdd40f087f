// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session

import (
	"sync"
	"time"

	"github.com/labelmesh/labelrounds/consensus"
	"github.com/labelmesh/labelrounds/models"
)

// Config describes one batch session (one round of voting).
type Config struct {
	Round     uint64
	SampleIDs []string

	// Voters is the registry snapshot taken at open time. Participants
	// joining mid-round never change quorum math for open samples.
	Voters map[string]uint64

	Rule              consensus.Rule
	UnanimityFallback bool
	MinVotes          int

	OpenedAt time.Time
	Timeout  time.Duration

	// OnComplete fires at most once, when the last session finalizes.
	OnComplete func()

	// OnFinalized fires once per sample as it finalizes, before the
	// completion check. Used for write-through persistence.
	OnFinalized func(sampleID string, outcome Outcome)
}

// Batch tracks the set of sample voting sessions opened together for one
// round. It is completed exactly when every contained session is
// finalized; the completion signal fires at most once even when multiple
// finalizations race to be the last.
type Batch struct {
	mu sync.Mutex

	round    uint64
	state    string
	openedAt time.Time
	deadline time.Time

	sessions map[string]*SampleSession
	order    []string // stable sample ordering for views

	completed   bool
	onComplete  func()
	onFinalized func(string, Outcome)
}

// Open creates one active SampleSession per sample, all sharing the
// deadline openedAt+timeout.
func Open(cfg Config) (*Batch, error) {
	if len(cfg.SampleIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	if cfg.MinVotes < 1 {
		cfg.MinVotes = 1
	}

	deadline := cfg.OpenedAt.Add(cfg.Timeout)
	b := &Batch{
		round:       cfg.Round,
		state:       models.BatchOpen,
		openedAt:    cfg.OpenedAt,
		deadline:    deadline,
		sessions:    make(map[string]*SampleSession, len(cfg.SampleIDs)),
		onComplete:  cfg.OnComplete,
		onFinalized: cfg.OnFinalized,
	}
	for _, id := range cfg.SampleIDs {
		if _, dup := b.sessions[id]; dup {
			continue
		}
		eligible := make(map[string]uint64, len(cfg.Voters))
		for addr, w := range cfg.Voters {
			eligible[addr] = w
		}
		b.sessions[id] = newSampleSession(id, eligible, cfg.Rule, cfg.UnanimityFallback, cfg.MinVotes, cfg.OpenedAt, deadline)
		b.order = append(b.order, id)
	}
	return b, nil
}

// Restore reapplies persisted votes and outcomes after a process restart.
// Completion callbacks do not fire during restore; a fully-finalized batch
// would have been persisted as completed and never reopened.
func (b *Batch) Restore(votes []models.Vote, finalized map[string]Outcome) {
	byID := make(map[string][]models.Vote)
	for _, v := range votes {
		byID[v.SampleID] = append(byID[v.SampleID], v)
	}

	b.mu.Lock()
	sessions := make([]*SampleSession, 0, len(b.sessions))
	for _, id := range b.order {
		sessions = append(sessions, b.sessions[id])
	}
	b.mu.Unlock()

	anyFinal := false
	for _, s := range sessions {
		var out *Outcome
		if o, ok := finalized[s.sampleID]; ok {
			out = &o
			anyFinal = true
		}
		s.restore(byID[s.sampleID], out)
	}

	if anyFinal {
		b.mu.Lock()
		if b.state == models.BatchOpen {
			b.state = models.BatchResolving
		}
		b.mu.Unlock()
	}
}

// SubmitVote delegates to the sample's session and then checks batch
// completion. Returns true when the vote finalized the sample.
func (b *Batch) SubmitVote(sampleID, voter, label string, now time.Time) (bool, error) {
	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return false, ErrNotActive
	}
	s, ok := b.sessions[sampleID]
	b.mu.Unlock()
	if !ok {
		return false, ErrUnknownSample
	}

	finalized, err := s.SubmitVote(voter, label, now)
	if err != nil {
		return false, err
	}
	if finalized {
		b.noteFinalized(s)
	}
	return finalized, nil
}

// Tick drives timeout checks on every still-active session. This is the
// only path that unblocks a round stalled on non-responsive voters.
// Returns the number of sessions finalized by this sweep.
func (b *Batch) Tick(now time.Time) int {
	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return 0
	}
	sessions := make([]*SampleSession, 0, len(b.sessions))
	for _, id := range b.order {
		sessions = append(sessions, b.sessions[id])
	}
	b.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if s.CheckTimeout(now) {
			n++
			b.noteFinalized(s)
		}
	}
	return n
}

// FinalizeAll force-finalizes every active session, e.g. on a coordinator
// override. Already-finalized sessions keep their recorded outcome.
func (b *Batch) FinalizeAll(reason string) {
	b.mu.Lock()
	sessions := make([]*SampleSession, 0, len(b.sessions))
	for _, id := range b.order {
		sessions = append(sessions, b.sessions[id])
	}
	b.mu.Unlock()

	for _, s := range sessions {
		if s.State() == models.SampleActive {
			s.Finalize(reason)
			b.noteFinalized(s)
		}
	}
}

// noteFinalized runs the persistence hook for a freshly-finalized sample
// and re-evaluates batch completion. Never called with b.mu held.
func (b *Batch) noteFinalized(s *SampleSession) {
	if b.onFinalized != nil {
		b.onFinalized(s.sampleID, s.Outcome())
	}

	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return
	}
	all := true
	for _, sess := range b.sessions {
		if sess.State() != models.SampleFinalized {
			all = false
			break
		}
	}
	var fire func()
	if all {
		b.completed = true
		b.state = models.BatchCompleted
		fire = b.onComplete
	} else if b.state == models.BatchOpen {
		b.state = models.BatchResolving
	}
	b.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// Views

func (b *Batch) Round() uint64 { return b.round }

func (b *Batch) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Batch) Completed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

func (b *Batch) OpenedAt() time.Time { return b.openedAt }

func (b *Batch) Deadline() time.Time { return b.deadline }

// Session returns the voting session for a sample, or ErrUnknownSample.
func (b *Batch) Session(sampleID string) (*SampleSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sampleID]
	if !ok {
		return nil, ErrUnknownSample
	}
	return s, nil
}

// Summaries returns the per-sample status views in stable order.
func (b *Batch) Summaries() []models.SampleSummary {
	b.mu.Lock()
	sessions := make([]*SampleSession, 0, len(b.sessions))
	for _, id := range b.order {
		sessions = append(sessions, b.sessions[id])
	}
	b.mu.Unlock()

	out := make([]models.SampleSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out
}

// LabeledSet returns the finalized samples that carry a consensus label.
// Unresolved samples (timeout with no usable votes) are excluded and never
// reach training.
func (b *Batch) LabeledSet() []models.LabeledSample {
	b.mu.Lock()
	sessions := make([]*SampleSession, 0, len(b.sessions))
	for _, id := range b.order {
		sessions = append(sessions, b.sessions[id])
	}
	b.mu.Unlock()

	var out []models.LabeledSample
	for _, s := range sessions {
		if s.State() != models.SampleFinalized {
			continue
		}
		o := s.Outcome()
		if o.Label == nil {
			continue
		}
		out = append(out, models.LabeledSample{
			SampleID:  s.sampleID,
			Label:     *o.Label,
			Reason:    o.Reason,
			VoteCount: len(s.Votes()),
		})
	}
	return out
}

// Records returns the full audit view of every session in the batch.
func (b *Batch) Records() []models.SampleRecord {
	b.mu.Lock()
	sessions := make([]*SampleSession, 0, len(b.sessions))
	for _, id := range b.order {
		sessions = append(sessions, b.sessions[id])
	}
	b.mu.Unlock()

	out := make([]models.SampleRecord, 0, len(sessions))
	for _, s := range sessions {
		rec := models.SampleRecord{
			SampleID: s.sampleID,
			Round:    b.round,
			State:    s.State(),
			Deadline: s.Deadline(),
			Votes:    s.Votes(),
		}
		if rec.State == models.SampleFinalized {
			o := s.Outcome()
			rec.FinalLabel = o.Label
			rec.Reason = o.Reason
		}
		out = append(out, rec)
	}
	return out
}
