// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package registry maps participant identities to voting weight and
// eligibility. The participant list itself is owned by the external
// ledger; this package only reads it, filters out observers, and hands a
// frozen snapshot to each batch session at open time.
package registry
