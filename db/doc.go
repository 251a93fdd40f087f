// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package db owns the persistence layer: schema creation and a Store
// wrapping database/sql. The SQL sticks to a subset that runs unchanged
// on PostgreSQL and SQLite, which is why timestamps are bound from Go
// rather than defaulted in the database.
//
// Everything the round controller needs to survive a restart lives here:
// the project round counter, the open batch with its sample sessions, and
// the full vote log. Recovery reads OpenBatchState and replays it into
// in-memory sessions; deadlines come from the persisted rows, not timers.
package db
