// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package rounds drives the active-learning loop. A Controller owns the
// project lifecycle: it opens a voting batch from the trainer's query
// set, waits for every sample session to finalize, hands the labeled set
// back to the trainer, and repeats until the iteration cap is reached,
// the trainer runs out of samples, or the coordinator ends the project.
//
// The round counter starts at zero and counts completed rounds; the open
// batch is always numbered currentRound+1. A training failure that
// exhausts the retry budget holds the round in the training phase until
// the coordinator kicks it or ends the project; the loop never advances
// past state it could not persist.
package rounds
