// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/labelmesh/labelrounds/consensus"
)

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string

	ProjectID          string
	CoordinatorKeySalt string

	ConsensusRule     consensus.Rule
	UnanimityFallback bool
	MinVotes          int
	VoteTimeout       time.Duration
	TickInterval      time.Duration
	MaxIterations     uint64
	TrainRetries      uint64

	TrainerURL   string
	PublisherURL string
}

// ParseFlags validates flags with environment-variable fallback.
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	var rule string

	fs := flag.NewFlagSet("labelrounds", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")

	fs.StringVar(&cfg.ProjectID, "project", "", "Project identifier")
	fs.StringVar(&rule, "rule", "", "Consensus rule (simple_majority, weighted_majority, unanimity)")
	fs.BoolVar(&cfg.UnanimityFallback, "unanimity-fallback", false, "Fall back to weighted majority when unanimity times out")
	fs.IntVar(&cfg.MinVotes, "min-votes", 1, "Minimum votes for a timeout finalization to carry a label")
	fs.DurationVar(&cfg.VoteTimeout, "timeout", 0, "Per-batch voting deadline")
	fs.DurationVar(&cfg.TickInterval, "tick", 0, "Deadline sweep interval")
	fs.Uint64Var(&cfg.MaxIterations, "max-iterations", 0, "Round cap, 0 for unbounded")
	fs.Uint64Var(&cfg.TrainRetries, "train-retries", 5, "Training retry budget per round")

	fs.StringVar(&cfg.TrainerURL, "trainer", "", "Training service base URL")
	fs.StringVar(&cfg.PublisherURL, "publisher", "", "Result publication URL (optional)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.CoordinatorKeySalt, "coordinator-salt", "", "Coordinator key salt (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = 4127 // default
		}
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	if cfg.DatabaseType == "" {
		cfg.DatabaseType = os.Getenv("DATABASE_TYPE")
		if cfg.DatabaseType == "" {
			cfg.DatabaseType = "sqlite"
		}
	}

	if cfg.ProjectID == "" {
		cfg.ProjectID = os.Getenv("PROJECT_ID")
	}
	if cfg.ProjectID == "" {
		return Config{}, errors.New("project ID required (use -project or PROJECT_ID env)")
	}

	if rule == "" {
		rule = os.Getenv("CONSENSUS_RULE")
		if rule == "" {
			rule = string(consensus.SimpleMajority)
		}
	}
	parsed, err := consensus.ParseRule(rule)
	if err != nil {
		return Config{}, fmt.Errorf("invalid consensus rule %q", rule)
	}
	cfg.ConsensusRule = parsed

	if cfg.VoteTimeout == 0 {
		if s := os.Getenv("VOTE_TIMEOUT"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return Config{}, errors.New("invalid VOTE_TIMEOUT env variable")
			}
			cfg.VoteTimeout = d
		} else {
			cfg.VoteTimeout = time.Hour
		}
	}
	if cfg.TickInterval == 0 {
		if s := os.Getenv("TICK_INTERVAL"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return Config{}, errors.New("invalid TICK_INTERVAL env variable")
			}
			cfg.TickInterval = d
		} else {
			cfg.TickInterval = 5 * time.Second
		}
	}
	if cfg.MaxIterations == 0 {
		if s := os.Getenv("MAX_ITERATIONS"); s != "" {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return Config{}, errors.New("invalid MAX_ITERATIONS env variable")
			}
			cfg.MaxIterations = n
		}
	}
	if cfg.MinVotes < 1 {
		return Config{}, errors.New("min-votes must be at least 1")
	}

	if cfg.TrainerURL == "" {
		cfg.TrainerURL = os.Getenv("TRAINER_URL")
	}
	if cfg.TrainerURL == "" {
		return Config{}, errors.New("trainer URL required (use -trainer or TRAINER_URL env)")
	}
	if cfg.PublisherURL == "" {
		cfg.PublisherURL = os.Getenv("PUBLISHER_URL")
	}

	// Secrets - MUST be provided
	if cfg.CoordinatorKeySalt == "" {
		cfg.CoordinatorKeySalt = os.Getenv("COORDINATOR_KEY_SALT")
	}
	if cfg.CoordinatorKeySalt == "" {
		return Config{}, errors.New("COORDINATOR_KEY_SALT required")
	}

	return cfg, nil
}
