// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jtciou26/notestream/internal/config"
)

// testDBSemaphore serializes database creation to prevent resource
// exhaustion when many tests run in parallel. Concurrent DuckDB CGO
// calls can hang under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

// testDBMutex serializes the New() call itself.
var testDBMutex sync.Mutex

// setupTestDB creates an in-memory test database with timeout
// protection. The semaphore is held for the entire test lifecycle, not
// just creation, so only one test has an active DuckDB connection at a
// time. It is released via t.Cleanup when the test completes.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	}

	type result struct {
		db  *DB
		err error
	}

	resultCh := make(chan result, 1)
	go func() {
		testDBMutex.Lock()
		db, err := New(cfg)
		testDBMutex.Unlock()
		resultCh <- result{db: db, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		t.Cleanup(func() {
			if err := res.db.Close(); err != nil {
				t.Logf("Failed to close test database: %v", err)
			}
		})
		return res.db
	case <-time.After(120 * time.Second):
		t.Fatalf("Timeout: database creation took longer than 120s")
		return nil
	}
}

func TestNew(t *testing.T) {
	db := setupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	count, err := db.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty events table, got %d rows", count)
	}

	failed, err := db.CountFailedEvents(ctx)
	if err != nil {
		t.Fatalf("CountFailedEvents failed: %v", err)
	}
	if failed != 0 {
		t.Errorf("Expected empty failed_events table, got %d rows", failed)
	}
}

func TestSchemaIdempotent(t *testing.T) {
	db := setupTestDB(t)

	// Re-running schema creation against an initialized database must
	// be a no-op, not an error.
	if err := db.createTables(); err != nil {
		t.Fatalf("Second createTables failed: %v", err)
	}
	if err := db.createIndexes(); err != nil {
		t.Fatalf("Second createIndexes failed: %v", err)
	}
}

func TestCheckpoint(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	// Nil context gets a default timeout
	if err := db.Checkpoint(nil); err != nil { //nolint:staticcheck // exercising nil context handling
		t.Fatalf("Checkpoint with nil context failed: %v", err)
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errString("dial tcp: connection refused"), true},
		{"broken pipe", errString("write: broken pipe"), true},
		{"bad connection", errString("driver: bad connection"), true},
		{"closed", errString("sql: database is closed"), true},
		{"constraint violation", errString("Constraint Error: Duplicate key"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.want {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// errString is a minimal error for classification tests.
type errString string

func (e errString) Error() string { return string(e) }
