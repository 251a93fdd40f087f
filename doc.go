// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the labelrounds API server.

Labelrounds is a consensus and round-orchestration engine for
collaborative active learning: a coordinator's model proposes batches of
unlabeled samples, a weighted electorate votes on labels, and each
round's consensus labels are fed back into model training, which selects
the next batch.

# Starting the Server

The server requires environment variables or CLI flags for configuration:

	DATABASE_URL=file:labelrounds.db PROJECT_ID=demo TRAINER_URL=http://localhost:8000 \
	COORDINATOR_KEY_SALT=secret go run .

Or with flags:

	go run . -p 4127 -d "postgres://..." -t postgres -project demo -trainer http://localhost:8000

# Configuration

Required settings:

  - DATABASE_URL (-d): PostgreSQL or SQLite connection string
  - PROJECT_ID (-project): Identifier of the labeling project
  - TRAINER_URL (-trainer): Base URL of the model training service
  - COORDINATOR_KEY_SALT (--coordinator-salt): Secret for coordinator key HMAC

Optional settings:

  - PORT (-p): Server port (default: 4127)
  - CONSENSUS_RULE (-rule): simple_majority, weighted_majority, or unanimity
  - VOTE_TIMEOUT (-timeout): Per-batch voting deadline (default: 1h)
  - MAX_ITERATIONS (-max-iterations): Round cap, 0 for unbounded
  - PUBLISHER_URL (-publisher): Endpoint for final result publication

# Architecture

The server uses a handler-based architecture with dependency injection:

  - handlers: HTTP request handlers (votes, project commands, status)
  - router: Route definitions using Go 1.22+ routing
  - middleware: CORS, logging, JSON helpers
  - models: Request/response and domain types
  - auth: Coordinator key validation and address normalization
  - consensus: Vote evaluation rules
  - session: Sample and batch voting state machines
  - registry: Electorate snapshots with retry
  - rounds: The active-learning round controller
  - scheduler: Voting deadline sweeps
  - db: Schema creation and persistence
  - cliparse: Configuration parsing

See package documentation for each component.
*/
package main
