// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/labelmesh/labelrounds/cliparse"
	"github.com/labelmesh/labelrounds/db"
	"github.com/labelmesh/labelrounds/models"
	"github.com/labelmesh/labelrounds/registry"
	"github.com/labelmesh/labelrounds/rounds"
	"github.com/labelmesh/labelrounds/testutil"
)

const (
	coordinatorAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	contributorAddr = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	observerAddr    = "0xcccccccccccccccccccccccccccccccccccccccc"
)

// stubTrainer hands out the configured first batch, then fresh sample
// IDs for every later round.
type stubTrainer struct {
	mu    sync.Mutex
	first []string
	calls int
}

func (s *stubTrainer) Train(context.Context, []models.LabeledSample) (models.TrainResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 1 {
		return models.TrainResult{ModelRef: "model-test", NextSamples: s.first}, nil
	}
	return models.TrainResult{
		ModelRef:    fmt.Sprintf("model-%d", s.calls),
		NextSamples: []string{fmt.Sprintf("gen-%d", s.calls)},
	}, nil
}

type fixture struct {
	ctrl  *rounds.Controller
	store *db.Store
	reg   *registry.Registry
	cfg   cliparse.Config
}

// setupVoting boots a project with an open batch of the given samples
// and the default electorate.
func setupVoting(t *testing.T, samples ...string) *fixture {
	t.Helper()

	conn := testutil.SetupTestDB(t)
	testutil.DefaultVoters(t, conn)

	cfg := testutil.GetTestConfig()
	store := db.NewStore(conn)
	reg := registry.New(store)

	ctrl := rounds.New(rounds.Options{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:       store,
		Registry:    reg,
		Trainer:     &stubTrainer{first: samples},
		ProjectID:   cfg.ProjectID,
		Rule:        cfg.ConsensusRule,
		MinVotes:    cfg.MinVotes,
		VoteTimeout: cfg.VoteTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Failed to start controller: %v", err)
	}
	go ctrl.Run(ctx)

	// The bootstrap training runs on the loop goroutine; wait for the
	// first batch to open.
	deadline := time.Now().Add(5 * time.Second)
	for ctrl.Status().ControllerState != rounds.StateVoting {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the first batch to open")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return &fixture{ctrl: ctrl, store: store, reg: reg, cfg: cfg}
}
