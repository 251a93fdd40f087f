// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/labelmesh/labelrounds/models"
)

// ErrUnavailable wraps ledger read failures that survived the retry
// budget. A batch open that hits this is aborted and retried by the
// round controller.
var ErrUnavailable = errors.New("participant ledger unavailable")

// Ledger is the authoritative participant list. The production
// implementation reads the participant table; tests use a static ledger.
type Ledger interface {
	Participants(ctx context.Context) ([]models.Participant, error)
}

// Registry produces point-in-time snapshots of the eligible electorate.
// A snapshot is taken once when a batch opens and injected into it;
// participants joining mid-round never change quorum math for samples
// that are already open.
type Registry struct {
	ledger     Ledger
	maxElapsed time.Duration
}

func New(ledger Ledger) *Registry {
	return &Registry{ledger: ledger, maxElapsed: 30 * time.Second}
}

// Snapshot returns the eligible voters (coordinator and contributor
// roles) and their weights. Ledger reads are retried with exponential
// backoff before giving up with ErrUnavailable.
func (r *Registry) Snapshot(ctx context.Context) (map[string]uint64, error) {
	var parts []models.Participant
	operation := func() error {
		var err error
		parts, err = r.ledger.Participants(ctx)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = r.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	voters := make(map[string]uint64, len(parts))
	for _, p := range parts {
		if p.CanVote() {
			voters[p.Address] = p.Weight
		}
	}
	return voters, nil
}

// Participants returns the full ledger view, observers included, for the
// read-only participants endpoint.
func (r *Registry) Participants(ctx context.Context) ([]models.Participant, error) {
	parts, err := r.ledger.Participants(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return parts, nil
}
