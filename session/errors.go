// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session

import "errors"

var (
	// ErrNotActive is returned for operations against a session that has
	// already finalized or a batch that has completed.
	ErrNotActive = errors.New("voting session is not active")

	// ErrUnauthorized is returned when the voter was not in the registry
	// snapshot taken at batch-open time.
	ErrUnauthorized = errors.New("voter is not eligible for this session")

	// ErrDuplicateVote is returned for a second vote from the same voter.
	// The first vote stands; callers treat this as an idempotent no-op.
	ErrDuplicateVote = errors.New("voter has already voted on this sample")

	// ErrUnknownSample is returned when the batch holds no session for
	// the given sample ID.
	ErrUnknownSample = errors.New("no voting session for sample")

	// ErrEmptyBatch is returned when a batch is opened with no samples.
	ErrEmptyBatch = errors.New("batch must contain at least one sample")
)
