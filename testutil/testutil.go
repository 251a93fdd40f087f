// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/labelmesh/labelrounds/cliparse"
	"github.com/labelmesh/labelrounds/consensus"
	"github.com/labelmesh/labelrounds/db"
	"github.com/labelmesh/labelrounds/models"
)

// SetupTestDB creates a fresh in-memory SQLite database with the full
// schema. Shared cache with a single connection keeps the pool from
// opening a second, empty memory database mid-test.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb-%s?mode=memory&cache=shared", t.Name())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:               4127,
		DatabaseURL:        "file:test.db",
		DatabaseType:       "sqlite",
		ProjectID:          "proj-test",
		CoordinatorKeySalt: "test-coordinator-salt",
		ConsensusRule:      consensus.SimpleMajority,
		MinVotes:           1,
		VoteTimeout:        time.Hour,
		TickInterval:       time.Second,
		TrainerURL:         "http://localhost:8000",
	}
}

// AddTestParticipant inserts a participant row
func AddTestParticipant(t *testing.T, conn *sql.DB, address, role string, weight uint64) {
	t.Helper()

	_, err := conn.Exec(`
		INSERT INTO participant (address, role, weight, joined_at)
		VALUES ($1, $2, $3, $4)
	`, address, role, weight, time.Now())
	if err != nil {
		t.Fatalf("Failed to create test participant: %v", err)
	}
}

// DefaultVoters seeds the usual test electorate: a coordinator with
// weight 2, a contributor with weight 1, and a read-only observer.
func DefaultVoters(t *testing.T, conn *sql.DB) {
	t.Helper()
	AddTestParticipant(t, conn, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", models.RoleCoordinator, 2)
	AddTestParticipant(t, conn, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", models.RoleContributor, 1)
	AddTestParticipant(t, conn, "0xcccccccccccccccccccccccccccccccccccccccc", models.RoleObserver, 1)
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
