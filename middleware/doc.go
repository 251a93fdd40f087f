// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package middleware provides HTTP middleware and response helpers:
// request logging with status capture, JSON encoding, CORS, and client
// IP extraction behind proxies.
package middleware
