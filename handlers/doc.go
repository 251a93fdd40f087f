// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package handlers contains the HTTP handlers for the labeling API:
// vote submission, coordinator project commands, and the read-only
// status and audit endpoints. Handlers translate between HTTP and the
// round controller; they hold no round state of their own.
package handlers
