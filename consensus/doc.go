// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package consensus implements the rules that map a set of weighted votes to
a single label.

Three rules are supported:

  - simple_majority: the label with the most votes wins (unweighted).
  - weighted_majority: the label with the highest summed weight wins.
  - unanimity: a label is returned only when every vote agrees.

Ties under either majority rule are broken deterministically: the tied
label whose earliest vote arrived first wins, with a lexicographic
fallback for identical timestamps. Finalized outcomes are part of the
audit trail, so replaying a recorded vote sequence must reproduce the
recorded label.

Evaluate is a pure function. All session state, locking, and timeout
handling lives in the session package.
*/
package consensus
