// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

/*
connection.go - Connection Management and Recovery

This file provides connection pool configuration and automatic
reconnection for resilient database operations.

Connection Recovery:
The reconnect() function implements exponential backoff:
  - Detects connection errors (connection refused, broken pipe, bad connection)
  - Closes the existing connection and clears the prepared statement cache
  - Attempts reconnection with configurable max retries and delay
  - Re-initializes the schema after a successful reconnect

Error Detection:
Only true connection failures trigger the reconnection logic. Query
errors (constraint violations, type mismatches) never do.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/jtciou26/notestream/internal/logging"
)

// reconnect attempts to re-establish database connection with exponential backoff
func (db *DB) reconnect() error {
	db.reconnectMu.Lock()
	defer db.reconnectMu.Unlock()

	// Check if connection is actually dead before reconnecting
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err == nil {
		return nil // Connection is alive
	}

	// Close existing connection and prepared statements
	db.clearStatementCache()

	if db.conn != nil {
		closeWithLog(db.conn, "database connection")
	}

	// Attempt reconnection with exponential backoff
	var lastErr error
	for attempt := 0; attempt < db.maxReconnectTries; attempt++ {
		if attempt > 0 {
			delay := db.reconnectDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
				// Continue with retry
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := db.attemptReconnect(); err != nil {
			lastErr = fmt.Errorf("reconnect attempt %d failed: %w", attempt+1, err)
			continue
		}

		logging.Info().Int("attempt", attempt+1).Msg("Database reconnected")
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", db.maxReconnectTries, lastErr)
}

// attemptReconnect tries to establish a new database connection
func (db *DB) attemptReconnect() error {
	numThreads := db.cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	conn, err := sql.Open("duckdb", connString(db.cfg, numThreads))
	if err != nil {
		return fmt.Errorf("failed to open: %w", err)
	}

	// Verify connection
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := conn.PingContext(pingCtx); err != nil {
		pingCancel()
		closeQuietly(conn)
		return fmt.Errorf("failed to ping: %w", err)
	}
	pingCancel()

	db.conn = conn

	if err := db.configureConnectionPool(); err != nil {
		closeQuietly(conn)
		return fmt.Errorf("failed to configure pool: %w", err)
	}

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return fmt.Errorf("failed to initialize: %w", err)
	}

	return nil
}

// clearStatementCache closes all cached prepared statements
func (db *DB) clearStatementCache() {
	db.stmtCacheMu.Lock()
	for _, stmt := range db.stmtCache {
		if stmt != nil {
			closeWithLog(stmt, "prepared statement")
		}
	}
	db.stmtCache = make(map[string]*sql.Stmt)
	db.stmtCacheMu.Unlock()
}

// configureConnectionPool sets connection pool parameters
func (db *DB) configureConnectionPool() error {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)

	return nil
}

// isConnectionError checks if an error indicates database connection loss
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "bad connection") ||
		strings.Contains(errMsg, "database is closed")
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update")
}
