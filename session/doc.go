// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package session implements the per-round voting state machines.

A Batch is one round: a set of SampleSessions opened together against a
single registry snapshot, sharing one deadline. A SampleSession collects
votes for one sample and finalizes exactly once, on whichever of these
happens first:

  - every eligible voter has voted (reason all_voted, the fast path,
    which never waits for the deadline),
  - the deadline passes (reason timeout, partial or even zero turnout),
  - the coordinator forces it (reason manual).

# Concurrency

Vote submissions arrive on HTTP handler goroutines while the timeout
sweeper runs on its own goroutine. A per-session mutex serializes
SubmitVote, CheckTimeout, and Finalize, so consensus is computed at most
once and exactly one finalization reason is recorded regardless of how
the race resolves. The batch completion callback fires at most once.

Lock ordering is batch-then-session; batch callbacks run with no lock
held.

Completed batches are retained read-only as the round's voting history.
*/
package session
