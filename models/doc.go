// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines the domain types and API request/response types
shared across the engine.

# Domain Types

  - Participant: a project member with a role and voting weight. The
    authoritative list lives in the external ledger; the engine only holds
    a read-only view.
  - Vote: an immutable (sample, voter, label, weight, timestamp) record.
  - LabeledSample: one entry of the labeled set fed to training.
  - SampleRecord / ResultBundle: audit and final-publication views.

# Enumerations

All state enumerations are string constants so they read naturally in
logs, JSON, and the database:

  - roles: coordinator, contributor, observer
  - sample session states: pending, active, finalized
  - batch states: open, resolving, completed
  - project status: running, ended (+ end reasons)
  - finalization reasons: all_voted, timeout, manual

# Conventions

Request and response types use snake_case JSON tags. Sensitive data never
appears here; voter identities are public ledger addresses.
*/
package models
