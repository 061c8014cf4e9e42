// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

/*
schema.go - Database Schema Management

This file manages the DuckDB schema including table creation and index
management.

Tables:
  - events: Normalized note events. event_id is the PRIMARY KEY and the
    idempotency key for sink writes: redelivered events conflict on it
    and are skipped. Params are stored as a JSON document to preserve
    insertion order and duplicate keys.
  - failed_events: Dead letter queue for messages that failed processing,
    keyed by event_id with retry bookkeeping for the auto-retry worker.

Schema Strategy (Pre-Release):
All columns are defined in the initial CREATE TABLE statement. This
provides a single source of truth for the complete schema and faster
startup with no migrations to run.

Index Strategy:
Indexes cover the analytics query patterns (event name, time ordering,
subject activity, device breakdowns) and the retry scheduler's
next_retry scan.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := db.getTableCreationQueries()

	// DuckDB does not accept multi-statement exec, run each separately
	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// getTableCreationQueries returns the table creation SQL statements
func (db *DB) getTableCreationQueries() []string {
	return []string{
		// Normalized events table. params holds the ordered param list
		// as JSON because order and duplicate keys are significant.
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			event_name TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			subject_id TEXT,
			params JSON,

			-- Flattened user context for analytics filtering
			device_category TEXT,
			operating_system TEXT,
			browser TEXT,
			country TEXT,
			ip_address TEXT,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,

		// Dead letter queue. payload is TEXT, not JSON, because poisoned
		// payloads are frequently not valid JSON.
		`CREATE TABLE IF NOT EXISTS failed_events (
			event_id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			original_error TEXT NOT NULL,
			last_error TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			first_failure TIMESTAMP NOT NULL,
			last_failure TIMESTAMP NOT NULL,
			next_retry TIMESTAMP NOT NULL,
			category TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
	}
}

// createIndexes creates database indexes for query optimization
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := db.getIndexQueries()

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute index query: %s: %w", query, err)
		}
	}

	return nil
}

// getIndexQueries returns index creation SQL statements
func (db *DB) getIndexQueries() []string {
	return []string{
		// Analytics indexes
		`CREATE INDEX IF NOT EXISTS idx_events_name ON events(event_name);`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject_id, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_name_timestamp ON events(event_name, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_device_category ON events(device_category);`,

		// Retry scheduler scans pending entries by next_retry
		`CREATE INDEX IF NOT EXISTS idx_failed_next_retry ON failed_events(next_retry);`,
		`CREATE INDEX IF NOT EXISTS idx_failed_first_failure ON failed_events(first_failure);`,
		`CREATE INDEX IF NOT EXISTS idx_failed_category ON failed_events(category);`,
	}
}
