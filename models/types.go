// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Participant roles
const (
	RoleCoordinator = "coordinator"
	RoleContributor = "contributor"
	RoleObserver    = "observer"
)

// Sample voting session states
const (
	SamplePending   = "pending"
	SampleActive    = "active"
	SampleFinalized = "finalized"
)

// Batch session states
const (
	BatchOpen      = "open"
	BatchResolving = "resolving"
	BatchCompleted = "completed"
)

// Project status
const (
	ProjectRunning = "running"
	ProjectEnded   = "ended"
)

// Project end reasons
const (
	EndMaxIterations    = "max_iterations_reached"
	EndSamplesExhausted = "samples_exhausted"
	EndCoordinator      = "coordinator_ended"
)

// Finalization reasons
const (
	ReasonAllVoted = "all_voted"
	ReasonTimeout  = "timeout"
	ReasonManual   = "manual"
)

// Domain types

type Participant struct {
	Address  string    `json:"address"`
	Role     string    `json:"role"`
	Weight   uint64    `json:"weight"`
	JoinedAt time.Time `json:"joined_at"`
}

// CanVote reports whether the participant's role carries voting rights.
// Observers are read-only.
func (p Participant) CanVote() bool {
	return p.Role == RoleCoordinator || p.Role == RoleContributor
}

// Vote is immutable once recorded. At most one vote exists per
// (sample, voter) pair; a later vote from the same voter is rejected,
// never overwritten.
type Vote struct {
	SampleID  string    `json:"sample_id"`
	Voter     string    `json:"voter"`
	Label     string    `json:"label"`
	Weight    uint64    `json:"weight"`
	Timestamp time.Time `json:"timestamp"`
}

// LabeledSample is one entry of the labeled set handed to the trainer.
// Samples that timed out without a consensus label are excluded.
type LabeledSample struct {
	SampleID  string `json:"sample_id"`
	Label     string `json:"label"`
	Reason    string `json:"finalization_reason"`
	VoteCount int    `json:"vote_count"`
}

// TrainResult is what the external training service returns: a reference
// to the updated model and the next batch of samples to query.
type TrainResult struct {
	ModelRef    string             `json:"model_ref"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	NextSamples []string           `json:"next_samples"`
}

type TrainingRun struct {
	Round      uint64     `json:"round"`
	ModelRef   string     `json:"model_ref,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// SampleRecord is the full audit view of one voting session.
type SampleRecord struct {
	SampleID   string    `json:"sample_id"`
	Round      uint64    `json:"round"`
	State      string    `json:"state"`
	Deadline   time.Time `json:"deadline"`
	FinalLabel *string   `json:"final_label,omitempty"`
	Reason     string    `json:"finalization_reason,omitempty"`
	Votes      []Vote    `json:"votes"`
}

// ResultBundle is the final publication payload handed to the archive
// publisher when the project ends.
type ResultBundle struct {
	ProjectID  string         `json:"project_id"`
	FinalRound uint64         `json:"final_round"`
	EndReason  string         `json:"end_reason"`
	Samples    []SampleRecord `json:"samples"`
	EndedAt    time.Time      `json:"ended_at"`
}

// Request types

type SubmitVoteRequest struct {
	SampleID string `json:"sample_id"`
	Voter    string `json:"voter"`
	Label    string `json:"label"`
}

// Response types

type SubmitVoteResponse struct {
	SampleID  string `json:"sample_id"`
	Recorded  bool   `json:"recorded"`
	Finalized bool   `json:"finalized"`
	Message   string `json:"message,omitempty"`
}

type EndProjectResponse struct {
	Status    string `json:"status"`
	EndReason string `json:"end_reason"`
}

type NextRoundResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type SampleSummary struct {
	SampleID   string  `json:"sample_id"`
	State      string  `json:"state"`
	Votes      int     `json:"votes"`
	FinalLabel *string `json:"final_label,omitempty"`
	Reason     string  `json:"finalization_reason,omitempty"`
}

type BatchStatus struct {
	Round     uint64          `json:"round"`
	State     string          `json:"state"`
	OpenedAt  time.Time       `json:"opened_at"`
	OpenedAgo string          `json:"opened_ago,omitempty"`
	Deadline  time.Time       `json:"deadline"`
	Samples   []SampleSummary `json:"samples"`
}

type StatusResponse struct {
	ProjectID       string        `json:"project_id"`
	Status          string        `json:"status"`
	EndReason       string        `json:"end_reason,omitempty"`
	CurrentRound    uint64        `json:"current_round"`
	MaxIterations   uint64        `json:"max_iterations,omitempty"`
	ControllerState string        `json:"controller_state"`
	Stalled         bool          `json:"stalled,omitempty"`
	Batch           *BatchStatus  `json:"batch,omitempty"`
	TrainingRuns    []TrainingRun `json:"training_runs,omitempty"`
}

type TallyResponse struct {
	SampleID string            `json:"sample_id"`
	State    string            `json:"state"`
	Counts   map[string]int    `json:"counts"`
	Weights  map[string]uint64 `json:"weights"`
	Voted    int               `json:"voted"`
	Eligible int               `json:"eligible"`
}

type HistoryResponse struct {
	SampleID string `json:"sample_id"`
	Round    uint64 `json:"round"`
	Votes    []Vote `json:"votes"`
}

type ParticipantView struct {
	Participant
	Eligible        bool       `json:"eligible"`
	LabelsSubmitted int        `json:"labels_submitted"`
	LastSubmission  *time.Time `json:"last_submission,omitempty"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
