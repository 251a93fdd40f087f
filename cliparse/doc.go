// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package cliparse resolves server configuration from command-line flags
// with environment-variable fallback. Flags win over env vars; secrets
// should come from the environment in production.
package cliparse
