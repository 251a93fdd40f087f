// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/labelmesh/labelrounds/models"
)

// openTestDB returns a fresh in-memory SQLite database with the schema
// applied. Shared-cache plus a single connection keeps database/sql's
// pool from silently opening a second, empty memory database.
func openTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, CreateSchema(conn))
	return NewStore(conn)
}

func TestInitProjectIdempotent(t *testing.T) {
	s := openTestDB(t)

	require.NoError(t, s.InitProject("proj-1", "weighted_majority"))
	require.NoError(t, s.AdvanceRound(3))

	// A second init must not reset the round counter.
	require.NoError(t, s.InitProject("proj-1", "weighted_majority"))

	round, status, reason, err := s.ProjectState()
	require.NoError(t, err)
	require.Equal(t, uint64(3), round)
	require.Equal(t, models.ProjectRunning, status)
	require.Empty(t, reason)
}

func TestEndProject(t *testing.T) {
	s := openTestDB(t)
	require.NoError(t, s.InitProject("proj-1", "simple_majority"))

	require.NoError(t, s.EndProject(models.EndMaxIterations))

	_, status, reason, err := s.ProjectState()
	require.NoError(t, err)
	require.Equal(t, models.ProjectEnded, status)
	require.Equal(t, models.EndMaxIterations, reason)
}

func TestOpenBatchRoundTrip(t *testing.T) {
	s := openTestDB(t)
	require.NoError(t, s.InitProject("proj-1", "simple_majority"))

	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	deadline := opened.Add(time.Hour)
	require.NoError(t, s.OpenBatch(1, []string{"s1", "s2"}, opened, deadline))

	require.NoError(t, s.RecordVote(1, models.Vote{
		SampleID:  "s1",
		Voter:     "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Label:     "cat",
		Weight:    2,
		Timestamp: opened.Add(time.Minute),
	}, "abc123"))

	label := "cat"
	require.NoError(t, s.FinalizeSample(1, "s1", &label, models.ReasonAllVoted, opened.Add(2*time.Minute)))

	b, err := s.OpenBatchState()
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, uint64(1), b.Round)
	require.Equal(t, models.BatchOpen, b.State)
	require.True(t, b.Deadline.Equal(deadline))
	require.Len(t, b.Samples, 2)
	require.Len(t, b.Votes, 1)
	require.Equal(t, uint64(2), b.Votes[0].Weight)

	byID := make(map[string]PersistedSample)
	for _, ps := range b.Samples {
		byID[ps.SampleID] = ps
	}
	require.Equal(t, models.SampleFinalized, byID["s1"].State)
	require.NotNil(t, byID["s1"].FinalLabel)
	require.Equal(t, "cat", *byID["s1"].FinalLabel)
	require.Equal(t, models.ReasonAllVoted, byID["s1"].Reason)
	require.Equal(t, models.SampleActive, byID["s2"].State)
	require.Nil(t, byID["s2"].FinalLabel)
}

func TestOpenBatchStateSkipsCompleted(t *testing.T) {
	s := openTestDB(t)
	require.NoError(t, s.InitProject("proj-1", "simple_majority"))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.OpenBatch(1, []string{"s1"}, now, now.Add(time.Hour)))
	require.NoError(t, s.SetBatchState(1, models.BatchCompleted))

	b, err := s.OpenBatchState()
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestFinalizeSampleNilLabel(t *testing.T) {
	s := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.OpenBatch(1, []string{"s1"}, now, now.Add(time.Hour)))

	require.NoError(t, s.FinalizeSample(1, "s1", nil, models.ReasonTimeout, now.Add(time.Hour)))

	b, err := s.OpenBatchState()
	require.NoError(t, err)
	require.Nil(t, b.Samples[0].FinalLabel)
	require.Equal(t, models.ReasonTimeout, b.Samples[0].Reason)
}

func TestDuplicateVoteRejectedByConstraint(t *testing.T) {
	s := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.OpenBatch(1, []string{"s1"}, now, now.Add(time.Hour)))

	v := models.Vote{SampleID: "s1", Voter: "0xbb", Label: "dog", Weight: 1, Timestamp: now}
	require.NoError(t, s.RecordVote(1, v, ""))

	v.Label = "cat"
	err := s.RecordVote(1, v, "")
	require.Error(t, err)
}

func TestParticipantsAndStats(t *testing.T) {
	s := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	for i, addr := range []string{"0xaa", "0xbb", "0xcc"} {
		role := models.RoleContributor
		if i == 0 {
			role = models.RoleCoordinator
		}
		_, err := s.db.Exec(`
			INSERT INTO participant (address, role, weight, joined_at) VALUES ($1, $2, $3, $4)
		`, addr, role, i+1, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	parts, err := s.Participants(context.Background())
	require.NoError(t, err)
	require.Len(t, parts, 3)
	require.Equal(t, "0xaa", parts[0].Address)
	require.Equal(t, models.RoleCoordinator, parts[0].Role)

	require.NoError(t, s.OpenBatch(1, []string{"s1", "s2"}, now, now.Add(time.Hour)))
	require.NoError(t, s.RecordVote(1, models.Vote{SampleID: "s1", Voter: "0xbb", Label: "x", Weight: 2, Timestamp: now}, ""))
	require.NoError(t, s.RecordVote(1, models.Vote{SampleID: "s2", Voter: "0xbb", Label: "y", Weight: 2, Timestamp: now.Add(time.Minute)}, ""))

	stats, err := s.ParticipantStats()
	require.NoError(t, err)
	require.Equal(t, 2, stats["0xbb"].LabelsSubmitted)
	require.NotNil(t, stats["0xbb"].LastSubmission)
}

func TestTrainingRunLifecycle(t *testing.T) {
	s := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	id, err := s.StartTrainingRun(1, now)
	require.NoError(t, err)
	require.NoError(t, s.FinishTrainingRun(id, "model-v2", nil, now.Add(time.Minute)))

	id2, err := s.StartTrainingRun(2, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.FinishTrainingRun(id2, "", errors.New("trainer unreachable"), now.Add(time.Hour+time.Minute)))

	runs, err := s.TrainingRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, uint64(2), runs[0].Round)
	require.Equal(t, "trainer unreachable", runs[0].Error)
	require.Equal(t, "model-v2", runs[1].ModelRef)
	require.NotNil(t, runs[1].FinishedAt)
}
