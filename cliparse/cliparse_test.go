// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"os"
	"testing"
	"time"

	"github.com/labelmesh/labelrounds/consensus"
)

func TestParseFlags_EnvVars(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("DATABASE_URL", "postgres://test")
	os.Setenv("PROJECT_ID", "proj-env")
	os.Setenv("TRAINER_URL", "http://trainer:8000")
	os.Setenv("COORDINATOR_KEY_SALT", "test-salt")
	os.Setenv("CONSENSUS_RULE", "weighted_majority")
	os.Setenv("VOTE_TIMEOUT", "30m")
	defer os.Clearenv()

	cfg, err := ParseFlags([]string{})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.ConsensusRule != consensus.WeightedMajority {
		t.Errorf("expected weighted_majority, got %s", cfg.ConsensusRule)
	}
	if cfg.VoteTimeout != 30*time.Minute {
		t.Errorf("expected 30m timeout, got %s", cfg.VoteTimeout)
	}
}

func TestParseFlags_CLIOverridesEnv(t *testing.T) {
	os.Setenv("PORT", "9000")
	defer os.Clearenv()

	cfg, err := ParseFlags([]string{
		"-p", "8080",
		"-d", "file:test.db",
		"-project", "proj-cli",
		"-trainer", "http://localhost:8000",
		"-coordinator-salt", "s1",
	})
	if err != nil {
		t.Fatal(err)
	}

	// CLI should override env
	if cfg.Port != 8080 {
		t.Errorf("CLI should override env: expected 8080, got %d", cfg.Port)
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	os.Setenv("DATABASE_URL", "file:test.db")
	os.Setenv("PROJECT_ID", "proj")
	os.Setenv("TRAINER_URL", "http://localhost:8000")
	os.Setenv("COORDINATOR_KEY_SALT", "salt")
	defer os.Clearenv()

	cfg, err := ParseFlags([]string{})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.DatabaseType != "sqlite" {
		t.Errorf("expected sqlite default, got %s", cfg.DatabaseType)
	}
	if cfg.ConsensusRule != consensus.SimpleMajority {
		t.Errorf("expected simple_majority default, got %s", cfg.ConsensusRule)
	}
	if cfg.VoteTimeout != time.Hour {
		t.Errorf("expected 1h default timeout, got %s", cfg.VoteTimeout)
	}
	if cfg.TickInterval != 5*time.Second {
		t.Errorf("expected 5s default tick, got %s", cfg.TickInterval)
	}
	if cfg.MaxIterations != 0 {
		t.Errorf("expected unbounded iterations, got %d", cfg.MaxIterations)
	}
}

func TestParseFlags_MissingRequired(t *testing.T) {
	os.Clearenv()

	if _, err := ParseFlags([]string{}); err == nil {
		t.Error("expected error when DATABASE_URL missing")
	}

	os.Setenv("DATABASE_URL", "file:test.db")
	os.Setenv("PROJECT_ID", "proj")
	os.Setenv("TRAINER_URL", "http://localhost:8000")
	defer os.Clearenv()

	if _, err := ParseFlags([]string{}); err == nil {
		t.Error("expected error when COORDINATOR_KEY_SALT missing")
	}
}

func TestParseFlags_InvalidRule(t *testing.T) {
	os.Setenv("DATABASE_URL", "file:test.db")
	os.Setenv("PROJECT_ID", "proj")
	os.Setenv("TRAINER_URL", "http://localhost:8000")
	os.Setenv("COORDINATOR_KEY_SALT", "salt")
	defer os.Clearenv()

	if _, err := ParseFlags([]string{"-rule", "plurality"}); err == nil {
		t.Error("expected error for unknown consensus rule")
	}
}
