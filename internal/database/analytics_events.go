// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

/*
analytics_events.go - Event Analytics Queries

Aggregation queries over the events table for the analytics API:
event volume by name and by day, device and browser breakdowns, most
active subjects, and recent event listings.

All queries accept an optional time range. Zero time values mean
unbounded on that side.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// TimeRange bounds an analytics query. Zero values are unbounded.
type TimeRange struct {
	Since time.Time
	Until time.Time
}

// NameCount is one event-name aggregation row.
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// DayCount is one per-day aggregation row.
type DayCount struct {
	Day   time.Time `json:"day"`
	Count int64     `json:"count"`
}

// SubjectActivity summarizes one subject's event volume.
type SubjectActivity struct {
	SubjectID string    `json:"subject_id"`
	Count     int64     `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}

// rangeConditions builds WHERE clauses and args for a time range.
func rangeConditions(tr TimeRange) (string, []any) {
	where := " WHERE 1=1"
	var args []any
	if !tr.Since.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, tr.Since.UTC())
	}
	if !tr.Until.IsZero() {
		where += " AND timestamp < ?"
		args = append(args, tr.Until.UTC())
	}
	return where, args
}

// EventCountsByName returns event volume grouped by event name, most
// frequent first.
func (db *DB) EventCountsByName(ctx context.Context, tr TimeRange) ([]NameCount, error) {
	return db.queryNameCounts(ctx, "event_name", tr)
}

// DeviceBreakdown returns event volume grouped by device category.
// Events without an attributed device are excluded.
func (db *DB) DeviceBreakdown(ctx context.Context, tr TimeRange) ([]NameCount, error) {
	return db.queryNameCounts(ctx, "device_category", tr)
}

// BrowserBreakdown returns event volume grouped by browser.
func (db *DB) BrowserBreakdown(ctx context.Context, tr TimeRange) ([]NameCount, error) {
	return db.queryNameCounts(ctx, "browser", tr)
}

// CountryBreakdown returns event volume grouped by country.
func (db *DB) CountryBreakdown(ctx context.Context, tr TimeRange) ([]NameCount, error) {
	return db.queryNameCounts(ctx, "country", tr)
}

// queryNameCounts groups event volume by one text column. NULL values
// are excluded so unattributed events do not produce a phantom bucket.
func (db *DB) queryNameCounts(ctx context.Context, column string, tr TimeRange) ([]NameCount, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args := rangeConditions(tr)
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) AS cnt
		FROM events%s AND %s IS NOT NULL
		GROUP BY %s
		ORDER BY cnt DESC, %s ASC`, column, where, column, column, column)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s counts: %w", column, err)
	}
	defer closeWithLog(rows, "result set")

	var counts []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan %s count row: %w", column, err)
		}
		counts = append(counts, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s counts: %w", column, err)
	}
	return counts, nil
}

// EventVolumeByDay returns daily event counts in chronological order.
func (db *DB) EventVolumeByDay(ctx context.Context, tr TimeRange) ([]DayCount, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args := rangeConditions(tr)
	query := `
		SELECT DATE_TRUNC('day', timestamp) AS day, COUNT(*) AS cnt
		FROM events` + where + `
		GROUP BY day
		ORDER BY day ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily volume: %w", err)
	}
	defer closeWithLog(rows, "result set")

	var days []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily volume row: %w", err)
		}
		dc.Day = dc.Day.UTC()
		days = append(days, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily volume: %w", err)
	}
	return days, nil
}

// TopSubjects returns the most active subjects with their last activity
// time. Events without a subject are excluded.
func (db *DB) TopSubjects(ctx context.Context, tr TimeRange, limit int) ([]SubjectActivity, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	where, args := rangeConditions(tr)
	query := `
		SELECT subject_id, COUNT(*) AS cnt, MAX(timestamp) AS last_seen
		FROM events` + where + ` AND subject_id IS NOT NULL
		GROUP BY subject_id
		ORDER BY cnt DESC, subject_id ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top subjects: %w", err)
	}
	defer closeWithLog(rows, "result set")

	var subjects []SubjectActivity
	for rows.Next() {
		var sa SubjectActivity
		if err := rows.Scan(&sa.SubjectID, &sa.Count, &sa.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan top subject row: %w", err)
		}
		sa.LastSeen = sa.LastSeen.UTC()
		subjects = append(subjects, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate top subjects: %w", err)
	}
	return subjects, nil
}

// RecentEvent is one row of the recent activity listing.
type RecentEvent struct {
	EventID   string    `json:"event_id"`
	EventName string    `json:"event_name"`
	Timestamp time.Time `json:"timestamp"`
	SubjectID *string   `json:"subject_id"`
}

// RecentEvents returns the newest events first, up to limit.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]RecentEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT event_id, event_name, timestamp, subject_id
		FROM events
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer closeWithLog(rows, "result set")

	var events []RecentEvent
	for rows.Next() {
		var r RecentEvent
		if err := rows.Scan(&r.EventID, &r.EventName, &r.Timestamp, &r.SubjectID); err != nil {
			return nil, fmt.Errorf("failed to scan recent event row: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		events = append(events, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent events: %w", err)
	}
	return events, nil
}

// FailedEventStats summarizes the dead letter queue by category.
func (db *DB) FailedEventStats(ctx context.Context) ([]NameCount, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT category, COUNT(*) AS cnt
		FROM failed_events
		GROUP BY category
		ORDER BY cnt DESC, category ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter stats: %w", err)
	}
	defer closeWithLog(rows, "result set")

	var counts []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter stats row: %w", err)
		}
		counts = append(counts, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter stats: %w", err)
	}
	return counts, nil
}
