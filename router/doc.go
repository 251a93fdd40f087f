// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package router wires the HTTP routes to their handlers using the
// standard library mux with method-qualified patterns.
package router
