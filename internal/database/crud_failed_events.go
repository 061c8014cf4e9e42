// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

/*
crud_failed_events.go - Dead Letter Queue Persistence

This file implements the failed-event store that backs the dead letter
queue. Entries survive process restarts, and the auto-retry worker
queries them by next_retry to schedule redelivery.

Upsert Semantics:
Saving an entry whose event_id already exists refreshes last_error and
last_failure while preserving the original error, first failure time,
retry_count and next_retry. A republished message that fails again
re-enters through SaveFailedEvent, and the preserved counter is what
lets repeated failures of the same message accumulate toward the retry
cap instead of starting over each cycle.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jtciou26/notestream/internal/eventpipeline"
)

// SaveFailedEvent inserts or refreshes a dead letter entry.
func (db *DB) SaveFailedEvent(ctx context.Context, entry *eventpipeline.DLQEntry) error {
	if entry == nil {
		return fmt.Errorf("nil dead letter entry")
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `INSERT INTO failed_events (
		event_id, message_id, payload, original_error, last_error,
		retry_count, first_failure, last_failure, next_retry, category
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (event_id) DO UPDATE SET
		last_error = excluded.last_error,
		last_failure = excluded.last_failure`

	_, err := db.conn.ExecContext(ctx, query,
		entry.EventID, entry.MessageID, string(entry.Payload),
		entry.OriginalError, entry.LastError, entry.RetryCount,
		entry.FirstFailure.UTC(), entry.LastFailure.UTC(), entry.NextRetry.UTC(),
		string(entry.Category),
	)
	if err != nil {
		if isConnectionError(err) {
			db.scheduleReconnect()
		}
		return fmt.Errorf("failed to save dead letter entry %s: %w", entry.EventID, err)
	}
	return nil
}

// GetFailedEvent retrieves an entry by event ID. Returns nil, nil when
// not found.
func (db *DB) GetFailedEvent(ctx context.Context, eventID string) (*eventpipeline.DLQEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, failedEventColumns+" WHERE event_id = ?", eventID)

	entry, err := scanFailedEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter entry %s: %w", eventID, err)
	}
	return entry, nil
}

// UpdateFailedEvent modifies retry bookkeeping for an existing entry.
func (db *DB) UpdateFailedEvent(ctx context.Context, entry *eventpipeline.DLQEntry) error {
	if entry == nil {
		return fmt.Errorf("nil dead letter entry")
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx, `
		UPDATE failed_events
		SET last_error = ?, retry_count = ?, last_failure = ?, next_retry = ?
		WHERE event_id = ?`,
		entry.LastError, entry.RetryCount, entry.LastFailure.UTC(), entry.NextRetry.UTC(),
		entry.EventID,
	)
	if err != nil {
		if isConnectionError(err) {
			db.scheduleReconnect()
		}
		return fmt.Errorf("failed to update dead letter entry %s: %w", entry.EventID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("dead letter entry %s not found", entry.EventID)
	}
	return nil
}

// DeleteFailedEvent removes an entry by event ID.
func (db *DB) DeleteFailedEvent(ctx context.Context, eventID string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, "DELETE FROM failed_events WHERE event_id = ?", eventID); err != nil {
		if isConnectionError(err) {
			db.scheduleReconnect()
		}
		return fmt.Errorf("failed to delete dead letter entry %s: %w", eventID, err)
	}
	return nil
}

// ListFailedEvents returns all entries ordered by first failure.
func (db *DB) ListFailedEvents(ctx context.Context) ([]*eventpipeline.DLQEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, failedEventColumns+" ORDER BY first_failure ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	defer closeWithLog(rows, "result set")

	return collectFailedEvents(rows)
}

// PendingFailedEvents returns retry-eligible entries whose NextRetry has
// passed and whose retry count is below maxRetries, ordered by
// next_retry so the longest-waiting entries go first. Validation
// failures are excluded: their payload is stored verbatim, so a
// republish can only fail the same way.
func (db *DB) PendingFailedEvents(ctx context.Context, before time.Time, maxRetries int) ([]*eventpipeline.DLQEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		failedEventColumns+" WHERE next_retry <= ? AND retry_count < ? AND category <> ? ORDER BY next_retry ASC",
		before.UTC(), maxRetries, string(eventpipeline.CategoryValidation))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending dead letter entries: %w", err)
	}
	defer closeWithLog(rows, "result set")

	return collectFailedEvents(rows)
}

// DeleteResolvedFailedEvents removes entries whose event now exists in
// the events table. A retried message that normalized successfully is
// settled here rather than at republish time. Returns the number
// removed.
func (db *DB) DeleteResolvedFailedEvents(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		"DELETE FROM failed_events WHERE event_id IN (SELECT event_id FROM events)")
	if err != nil {
		if isConnectionError(err) {
			db.scheduleReconnect()
		}
		return 0, fmt.Errorf("failed to delete resolved dead letter entries: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}

// DeleteExpiredFailedEvents removes entries that first failed before the
// cutoff. Returns the number removed.
func (db *DB) DeleteExpiredFailedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		"DELETE FROM failed_events WHERE first_failure < ?", olderThan.UTC())
	if err != nil {
		if isConnectionError(err) {
			db.scheduleReconnect()
		}
		return 0, fmt.Errorf("failed to delete expired dead letter entries: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}

// CountFailedEvents returns the total number of entries.
func (db *DB) CountFailedEvents(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM failed_events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead letter entries: %w", err)
	}
	return count, nil
}

const failedEventColumns = `SELECT event_id, message_id, payload, original_error, last_error,
	retry_count, first_failure, last_failure, next_retry, category
	FROM failed_events`

// scanFailedEvent reads one dead letter row.
func scanFailedEvent(row rowScanner) (*eventpipeline.DLQEntry, error) {
	var (
		entry    eventpipeline.DLQEntry
		payload  string
		category string
	)

	err := row.Scan(
		&entry.EventID, &entry.MessageID, &payload, &entry.OriginalError, &entry.LastError,
		&entry.RetryCount, &entry.FirstFailure, &entry.LastFailure, &entry.NextRetry, &category,
	)
	if err != nil {
		return nil, err
	}

	entry.Payload = []byte(payload)
	entry.Category = eventpipeline.ErrorCategory(category)
	entry.FirstFailure = entry.FirstFailure.UTC()
	entry.LastFailure = entry.LastFailure.UTC()
	entry.NextRetry = entry.NextRetry.UTC()

	return &entry, nil
}

// collectFailedEvents drains a result set into entries.
func collectFailedEvents(rows *sql.Rows) ([]*eventpipeline.DLQEntry, error) {
	var entries []*eventpipeline.DLQEntry
	for rows.Next() {
		entry, err := scanFailedEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter entries: %w", err)
	}
	return entries, nil
}
