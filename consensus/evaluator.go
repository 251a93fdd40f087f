// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package consensus

import (
	"fmt"
	"time"

	"github.com/labelmesh/labelrounds/models"
)

// Rule selects how a set of weighted votes maps to a single label.
// The set is closed; configuration strings are parsed once at batch-open
// time, never per vote.
type Rule string

const (
	SimpleMajority   Rule = "simple_majority"
	WeightedMajority Rule = "weighted_majority"
	Unanimity        Rule = "unanimity"
)

// ParseRule resolves a configuration string into a Rule.
func ParseRule(s string) (Rule, error) {
	switch Rule(s) {
	case SimpleMajority, WeightedMajority, Unanimity:
		return Rule(s), nil
	}
	return "", fmt.Errorf("unknown consensus rule %q", s)
}

// Evaluate computes the consensus label for a set of votes under the given
// rule. It is deterministic and side-effect-free: replaying the same vote
// sequence always yields the same outcome. The boolean is false when no
// label can be determined (no votes, or unanimity not reached).
func Evaluate(votes []models.Vote, rule Rule) (string, bool) {
	if len(votes) == 0 {
		return "", false
	}

	switch rule {
	case SimpleMajority:
		scores := make(map[string]uint64, len(votes))
		for _, v := range votes {
			scores[v.Label]++
		}
		return pickWinner(scores, votes), true

	case WeightedMajority:
		scores := make(map[string]uint64, len(votes))
		for _, v := range votes {
			scores[v.Label] += v.Weight
		}
		return pickWinner(scores, votes), true

	case Unanimity:
		first := votes[0].Label
		for _, v := range votes[1:] {
			if v.Label != first {
				return "", false
			}
		}
		return first, true
	}

	return "", false
}

// pickWinner returns the label with the highest score. Ties go to the
// label whose earliest vote arrived first; equal arrival times fall back
// to the lexicographically smaller label so the result never depends on
// map iteration order.
func pickWinner(scores map[string]uint64, votes []models.Vote) string {
	earliest := make(map[string]time.Time, len(scores))
	for _, v := range votes {
		if t, ok := earliest[v.Label]; !ok || v.Timestamp.Before(t) {
			earliest[v.Label] = v.Timestamp
		}
	}

	var winner string
	var best uint64
	for label, score := range scores {
		switch {
		case winner == "" || score > best:
			winner, best = label, score
		case score == best:
			wt, lt := earliest[winner], earliest[label]
			if lt.Before(wt) || (lt.Equal(wt) && label < winner) {
				winner = label
			}
		}
	}
	return winner
}
