// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrInvalidCoordinatorKey = errors.New("invalid coordinator key")
	ErrInvalidAddress        = errors.New("invalid participant address")
)

// GenerateCoordinatorKey derives the HMAC-based key that authorizes
// coordinator commands (end project, force next round) for a project.
// Deterministic and verifiable without storing the key.
func GenerateCoordinatorKey(projectID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(projectID))
	sum := h.Sum(nil)
	// URL-safe base64 without padding for cleaner keys
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateCoordinatorKey checks the provided key in constant time.
func ValidateCoordinatorKey(projectID, key, salt string) error {
	expected := GenerateCoordinatorKey(projectID, salt)
	if !hmac.Equal([]byte(key), []byte(expected)) {
		return ErrInvalidCoordinatorKey
	}
	return nil
}

// NormalizeAddress validates and canonicalizes a participant identity.
// Identities are ledger wallet addresses: 0x followed by 40 hex digits,
// compared lowercased so the same wallet never counts as two voters.
func NormalizeAddress(addr string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(addr))
	if len(a) != 42 || !strings.HasPrefix(a, "0x") {
		return "", ErrInvalidAddress
	}
	if _, err := hex.DecodeString(a[2:]); err != nil {
		return "", ErrInvalidAddress
	}
	return a, nil
}

// HashIP creates a salted one-way hash of a client IP for the vote audit
// trail. First 16 hex chars are enough for deduplication.
func HashIP(ip, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(ip))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
