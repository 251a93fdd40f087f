// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables the engine needs. Safe to call multiple
// times - uses IF NOT EXISTS. The SQL sticks to the dialect subset shared
// by PostgreSQL and SQLite; timestamps are always supplied by the engine,
// never defaulted by the database.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
-- Participants (read-only cache of the ledger's list)
CREATE TABLE IF NOT EXISTS participant (
    address TEXT PRIMARY KEY,
    role TEXT NOT NULL CHECK (role IN ('coordinator', 'contributor', 'observer')),
    weight INTEGER NOT NULL DEFAULT 1,
    joined_at TIMESTAMP NOT NULL
);

-- Project round state (single row)
CREATE TABLE IF NOT EXISTS project_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    project_id TEXT NOT NULL,
    current_round INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'ended')),
    end_reason TEXT,
    consensus_rule TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

-- Batch sessions (one per round)
CREATE TABLE IF NOT EXISTS batch_session (
    round INTEGER PRIMARY KEY,
    state TEXT NOT NULL CHECK (state IN ('open', 'resolving', 'completed')),
    opened_at TIMESTAMP NOT NULL,
    deadline TIMESTAMP NOT NULL
);

-- Sample voting sessions
CREATE TABLE IF NOT EXISTS sample_session (
    id TEXT PRIMARY KEY,
    round INTEGER NOT NULL REFERENCES batch_session(round) ON DELETE CASCADE,
    sample_id TEXT NOT NULL,
    state TEXT NOT NULL CHECK (state IN ('pending', 'active', 'finalized')),
    final_label TEXT,
    finalization_reason TEXT,
    finalized_at TIMESTAMP,
    UNIQUE (round, sample_id)
);

CREATE INDEX IF NOT EXISTS idx_sample_session_round ON sample_session(round);

-- Votes (immutable; the unique constraint backs the no-double-voting rule)
CREATE TABLE IF NOT EXISTS vote (
    id TEXT PRIMARY KEY,
    round INTEGER NOT NULL,
    sample_id TEXT NOT NULL,
    voter TEXT NOT NULL,
    label TEXT NOT NULL,
    weight INTEGER NOT NULL,
    submitted_at TIMESTAMP NOT NULL,
    ip_hash TEXT,
    UNIQUE (round, sample_id, voter)
);

CREATE INDEX IF NOT EXISTS idx_vote_round_sample ON vote(round, sample_id);
CREATE INDEX IF NOT EXISTS idx_vote_voter ON vote(voter);

-- Training runs (one row per training attempt that got as far as starting)
CREATE TABLE IF NOT EXISTS training_run (
    id TEXT PRIMARY KEY,
    round INTEGER NOT NULL,
    model_ref TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_training_run_round ON training_run(round);
`
