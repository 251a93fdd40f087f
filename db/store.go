// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labelmesh/labelrounds/models"
)

// Store is the engine's durable record: enough to reconstruct the project
// round state, the open batch, and every vote after a crash, without
// replaying external events.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitProject ensures the single project_state row exists. Existing state
// is left untouched so a restart resumes rather than resets.
func (s *Store) InitProject(projectID, rule string) error {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM project_state WHERE id = 1)`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to read project state: %w", err)
	}
	if exists {
		return nil
	}
	_, err = s.db.Exec(`
		INSERT INTO project_state (id, project_id, current_round, status, consensus_rule, updated_at)
		VALUES (1, $1, 0, $2, $3, $4)
	`, projectID, models.ProjectRunning, rule, time.Now())
	if err != nil {
		return fmt.Errorf("failed to init project state: %w", err)
	}
	return nil
}

// ProjectState returns the persisted round counter, status, and end reason.
func (s *Store) ProjectState() (round uint64, status string, endReason string, err error) {
	var reason sql.NullString
	err = s.db.QueryRow(`
		SELECT current_round, status, end_reason FROM project_state WHERE id = 1
	`).Scan(&round, &status, &reason)
	if err != nil {
		return 0, "", "", fmt.Errorf("failed to load project state: %w", err)
	}
	return round, status, reason.String, nil
}

// AdvanceRound persists the new round counter after a batch completes.
func (s *Store) AdvanceRound(round uint64) error {
	_, err := s.db.Exec(`
		UPDATE project_state SET current_round = $1, updated_at = $2 WHERE id = 1
	`, round, time.Now())
	if err != nil {
		return fmt.Errorf("failed to advance round: %w", err)
	}
	return nil
}

// EndProject marks the project ended. Terminal; never undone.
func (s *Store) EndProject(reason string) error {
	_, err := s.db.Exec(`
		UPDATE project_state SET status = $1, end_reason = $2, updated_at = $3 WHERE id = 1
	`, models.ProjectEnded, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to end project: %w", err)
	}
	return nil
}

// OpenBatch durably records a new batch and its sample sessions in one
// transaction, so recovery never sees a batch with half its sessions.
func (s *Store) OpenBatch(round uint64, sampleIDs []string, openedAt, deadline time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO batch_session (round, state, opened_at, deadline)
		VALUES ($1, $2, $3, $4)
	`, round, models.BatchOpen, openedAt, deadline)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	for _, id := range sampleIDs {
		_, err = tx.Exec(`
			INSERT INTO sample_session (id, round, sample_id, state)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), round, id, models.SampleActive)
		if err != nil {
			return fmt.Errorf("failed to insert sample session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch open: %w", err)
	}
	return nil
}

// SetBatchState updates the batch state (resolving, completed).
func (s *Store) SetBatchState(round uint64, state string) error {
	_, err := s.db.Exec(`UPDATE batch_session SET state = $1 WHERE round = $2`, state, round)
	if err != nil {
		return fmt.Errorf("failed to set batch state: %w", err)
	}
	return nil
}

// RecordVote appends an immutable vote row.
func (s *Store) RecordVote(round uint64, v models.Vote, ipHash string) error {
	var ip *string
	if ipHash != "" {
		ip = &ipHash
	}
	_, err := s.db.Exec(`
		INSERT INTO vote (id, round, sample_id, voter, label, weight, submitted_at, ip_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.NewString(), round, v.SampleID, v.Voter, v.Label, v.Weight, v.Timestamp, ip)
	if err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}
	return nil
}

// FinalizeSample persists a session's outcome. Label is nil for sessions
// that closed unresolved.
func (s *Store) FinalizeSample(round uint64, sampleID string, label *string, reason string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sample_session
		SET state = $1, final_label = $2, finalization_reason = $3, finalized_at = $4
		WHERE round = $5 AND sample_id = $6
	`, models.SampleFinalized, label, reason, at, round, sampleID)
	if err != nil {
		return fmt.Errorf("failed to finalize sample: %w", err)
	}
	return nil
}

// PersistedSample is a recovered sample session row.
type PersistedSample struct {
	SampleID   string
	State      string
	FinalLabel *string
	Reason     string
}

// PersistedBatch is everything needed to rebuild a non-completed batch
// after a restart. Deadlines are recomputed from opened_at + timeout by
// the caller reading the persisted deadline, never from in-memory timers.
type PersistedBatch struct {
	Round    uint64
	State    string
	OpenedAt time.Time
	Deadline time.Time
	Samples  []PersistedSample
	Votes    []models.Vote
}

// OpenBatchState loads the non-completed batch, if any.
func (s *Store) OpenBatchState() (*PersistedBatch, error) {
	var b PersistedBatch
	err := s.db.QueryRow(`
		SELECT round, state, opened_at, deadline
		FROM batch_session
		WHERE state != $1
		ORDER BY round DESC
		LIMIT 1
	`, models.BatchCompleted).Scan(&b.Round, &b.State, &b.OpenedAt, &b.Deadline)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load open batch: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT sample_id, state, final_label, finalization_reason
		FROM sample_session
		WHERE round = $1
		ORDER BY sample_id
	`, b.Round)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ps PersistedSample
		var reason sql.NullString
		if err := rows.Scan(&ps.SampleID, &ps.State, &ps.FinalLabel, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan sample session: %w", err)
		}
		ps.Reason = reason.String
		b.Samples = append(b.Samples, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	b.Votes, err = s.VotesForRound(b.Round)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// VotesForRound returns every vote of a round in arrival order.
func (s *Store) VotesForRound(round uint64) ([]models.Vote, error) {
	rows, err := s.db.Query(`
		SELECT sample_id, voter, label, weight, submitted_at
		FROM vote
		WHERE round = $1
		ORDER BY submitted_at, voter
	`, round)
	if err != nil {
		return nil, fmt.Errorf("failed to load votes: %w", err)
	}
	defer rows.Close()

	var votes []models.Vote
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.SampleID, &v.Voter, &v.Label, &v.Weight, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// LabeledSet reconstructs the labeled samples of a completed round from
// persisted outcomes, for re-running training after a restart.
func (s *Store) LabeledSet(round uint64) ([]models.LabeledSample, error) {
	rows, err := s.db.Query(`
		SELECT ss.sample_id, ss.final_label, ss.finalization_reason,
		       (SELECT COUNT(*) FROM vote v WHERE v.round = ss.round AND v.sample_id = ss.sample_id)
		FROM sample_session ss
		WHERE ss.round = $1 AND ss.final_label IS NOT NULL
		ORDER BY ss.sample_id
	`, round)
	if err != nil {
		return nil, fmt.Errorf("failed to load labeled set: %w", err)
	}
	defer rows.Close()

	var labeled []models.LabeledSample
	for rows.Next() {
		var ls models.LabeledSample
		var reason sql.NullString
		if err := rows.Scan(&ls.SampleID, &ls.Label, &reason, &ls.VoteCount); err != nil {
			return nil, fmt.Errorf("failed to scan labeled sample: %w", err)
		}
		ls.Reason = reason.String
		labeled = append(labeled, ls)
	}
	return labeled, rows.Err()
}

// Participants implements registry.Ledger against the participant table.
func (s *Store) Participants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, role, weight, joined_at
		FROM participant
		ORDER BY joined_at, address
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()

	var parts []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.Address, &p.Role, &p.Weight, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// VoterStats is per-participant submission bookkeeping for dashboards.
type VoterStats struct {
	LabelsSubmitted int
	LastSubmission  *time.Time
}

// ParticipantStats aggregates vote counts and last-submission times.
func (s *Store) ParticipantStats() (map[string]VoterStats, error) {
	rows, err := s.db.Query(`
		SELECT voter, COUNT(*), MAX(submitted_at)
		FROM vote
		GROUP BY voter
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load voter stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]VoterStats)
	for rows.Next() {
		var voter string
		var st VoterStats
		var last time.Time
		if err := rows.Scan(&voter, &st.LabelsSubmitted, &last); err != nil {
			return nil, fmt.Errorf("failed to scan voter stats: %w", err)
		}
		st.LastSubmission = &last
		stats[voter] = st
	}
	return stats, rows.Err()
}

// StartTrainingRun records a training attempt and returns its row ID.
func (s *Store) StartTrainingRun(round uint64, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO training_run (id, round, started_at)
		VALUES ($1, $2, $3)
	`, id, round, at)
	if err != nil {
		return "", fmt.Errorf("failed to start training run: %w", err)
	}
	return id, nil
}

// FinishTrainingRun records the result of a training attempt.
func (s *Store) FinishTrainingRun(id, modelRef string, trainErr error, at time.Time) error {
	var errText *string
	if trainErr != nil {
		t := trainErr.Error()
		errText = &t
	}
	_, err := s.db.Exec(`
		UPDATE training_run SET model_ref = $1, finished_at = $2, error = $3 WHERE id = $4
	`, modelRef, at, errText, id)
	if err != nil {
		return fmt.Errorf("failed to finish training run: %w", err)
	}
	return nil
}

// TrainingRuns returns the training history, newest first.
func (s *Store) TrainingRuns() ([]models.TrainingRun, error) {
	rows, err := s.db.Query(`
		SELECT round, model_ref, started_at, finished_at, error
		FROM training_run
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load training runs: %w", err)
	}
	defer rows.Close()

	var runs []models.TrainingRun
	for rows.Next() {
		var r models.TrainingRun
		var modelRef, errText sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.Round, &modelRef, &r.StartedAt, &finished, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan training run: %w", err)
		}
		r.ModelRef = modelRef.String
		r.Error = errText.String
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
