// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

/*
crud_events.go - Event Insert and Lookup Operations

This file implements the batch insert path that backs the pipeline's
event sink, plus single-event lookups for the API layer.

Idempotency:
Inserts use ON CONFLICT (event_id) DO NOTHING. A redelivered event
conflicts on its primary key and reports zero rows affected, which is
counted as a duplicate rather than an error. This is what makes at-least
-once delivery from the broker safe.

Failure Model:
  - Rows failing validation are rejected individually and reported in
    the result. They are never retried.
  - Connection loss, transaction begin/prepare/commit failures and
    statement errors return an error. The caller retries the whole
    batch, which is safe because insertion is idempotent.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/jtciou26/notestream/internal/eventpipeline"
	"github.com/jtciou26/notestream/internal/logging"
)

// InsertEventsBatch inserts a batch of normalized events within a single
// transaction. Implements the pipeline's event store contract.
//
// Returns:
//   - Inserted: rows durably written
//   - Duplicates: rows skipped by the event_id conflict target
//   - Rejected: rows that failed validation, reported by batch index
//
// A returned error means the transaction failed and no outcome can be
// trusted; the caller should retry the full batch.
func (db *DB) InsertEventsBatch(ctx context.Context, events []*eventpipeline.Event) (eventpipeline.SinkResult, error) {
	var result eventpipeline.SinkResult
	if len(events) == 0 {
		return result, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		if isConnectionError(err) {
			db.scheduleReconnect()
		}
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure transaction is finalized
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().Err(rbErr).Msg("Transaction rollback failed")
			}
		}
	}()

	query := `INSERT INTO events (
		event_id, event_name, timestamp, subject_id, params,
		device_category, operating_system, browser, country, ip_address,
		created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (event_id) DO NOTHING`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return result, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer closeWithLog(stmt, "prepared statement")

	now := time.Now().UTC()

	for i, event := range events {
		if event == nil {
			result.Rejected = append(result.Rejected, eventpipeline.RowError{
				RowIndex: i, Reason: "nil event",
			})
			continue
		}
		if err := event.Validate(); err != nil {
			result.Rejected = append(result.Rejected, eventpipeline.RowError{
				RowIndex: i, Reason: err.Error(),
			})
			continue
		}

		paramsJSON, err := json.Marshal(event.Params)
		if err != nil {
			result.Rejected = append(result.Rejected, eventpipeline.RowError{
				RowIndex: i, Reason: fmt.Sprintf("params not serializable: %v", err),
			})
			continue
		}

		var deviceCategory, operatingSystem, browser, country, ipAddress *string
		if uc := event.UserContext; uc != nil {
			deviceCategory = uc.DeviceCategory
			operatingSystem = uc.OperatingSystem
			browser = uc.Browser
			country = uc.Country
			ipAddress = uc.IPAddress
		}

		execResult, execErr := stmt.ExecContext(ctx,
			event.EventID, event.EventName, event.Timestamp.UTC(), event.SubjectID, string(paramsJSON),
			deviceCategory, operatingSystem, browser, country, ipAddress,
			now,
		)
		if execErr != nil {
			if isConnectionError(execErr) {
				db.scheduleReconnect()
			}
			return eventpipeline.SinkResult{}, fmt.Errorf("failed to insert event %d (event_id=%s): %w", i, event.EventID, execErr)
		}

		rowsAffected, rowsErr := execResult.RowsAffected()
		if rowsErr != nil {
			return eventpipeline.SinkResult{}, fmt.Errorf("failed to get rows affected for event %d: %w", i, rowsErr)
		}

		if rowsAffected > 0 {
			result.Inserted++
		} else {
			result.Duplicates++
			logging.Debug().
				Str("event_id", event.EventID).
				Str("event_name", event.EventName).
				Msg("Batch duplicate detected")
		}
	}

	if err := tx.Commit(); err != nil {
		if isConnectionError(err) {
			db.scheduleReconnect()
		}
		return eventpipeline.SinkResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	logging.Debug().
		Int("inserted", result.Inserted).
		Int("duplicates", result.Duplicates).
		Int("rejected", len(result.Rejected)).
		Int("total", len(events)).
		Msg("Batch transaction committed")

	return result, nil
}

// scheduleReconnect kicks off connection recovery in the background so
// the failing call can return promptly.
func (db *DB) scheduleReconnect() {
	go func() {
		if err := db.reconnect(); err != nil {
			logging.Error().Err(err).Msg("Database reconnection failed")
		}
	}()
}

// GetEventByID retrieves a single event by its id. Returns nil, nil when
// not found.
func (db *DB) GetEventByID(ctx context.Context, eventID string) (*eventpipeline.Event, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT event_id, event_name, timestamp, subject_id, CAST(params AS VARCHAR),
			device_category, operating_system, browser, country, ip_address
		FROM events WHERE event_id = ?`, eventID)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	return event, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent reads one event row, reassembling params and user context.
func scanEvent(row rowScanner) (*eventpipeline.Event, error) {
	var (
		event      eventpipeline.Event
		paramsJSON sql.NullString
		uc         eventpipeline.UserContext
	)

	err := row.Scan(
		&event.EventID, &event.EventName, &event.Timestamp, &event.SubjectID, &paramsJSON,
		&uc.DeviceCategory, &uc.OperatingSystem, &uc.Browser, &uc.Country, &uc.IPAddress,
	)
	if err != nil {
		return nil, err
	}

	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &event.Params); err != nil {
			return nil, fmt.Errorf("failed to decode stored params: %w", err)
		}
	}

	if uc.DeviceCategory != nil || uc.OperatingSystem != nil || uc.Browser != nil ||
		uc.Country != nil || uc.IPAddress != nil {
		event.UserContext = &uc
	}

	// DuckDB returns naive timestamps, pin them to UTC
	event.Timestamp = event.Timestamp.UTC()

	return &event, nil
}

// CountEvents returns the total number of stored events.
func (db *DB) CountEvents(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
