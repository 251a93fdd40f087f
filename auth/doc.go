// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides the small amount of authentication the engine does
itself.

Wallet authentication and role assignment are handled upstream; this
package only canonicalizes participant addresses, verifies the HMAC
coordinator key that gates destructive commands, and hashes client IPs
for the vote audit trail.

The coordinator key is derived from the project ID and a server-side
salt, so it can be validated without storing per-project secrets.
*/
package auth
