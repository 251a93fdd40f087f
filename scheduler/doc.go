// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package scheduler owns the background tick loop that sweeps voting
// deadlines. It is deliberately dumb: all timeout logic lives with the
// sessions, the scheduler just supplies the clock edge.
package scheduler
