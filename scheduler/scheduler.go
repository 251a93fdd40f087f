// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Target is anything the scheduler drives. The round controller's
// deadline sweep implements it.
type Target interface {
	Tick(now time.Time) int
}

// Scheduler periodically ticks its target so expired voting sessions
// finalize even when no votes arrive. Timeouts are evaluated against
// wall-clock deadlines, so a coarse interval only delays finalization,
// never skips it.
type Scheduler struct {
	logger   *slog.Logger
	target   Target
	interval time.Duration
}

func New(logger *slog.Logger, target Target, interval time.Duration) *Scheduler {
	return &Scheduler{logger: logger, target: target, interval: interval}
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("timeout scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout scheduler stopped")
			return
		case now := <-ticker.C:
			s.target.Tick(now)
		}
	}
}
