// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

// Package database provides the DuckDB-backed analytical store for
// normalized note events and the persistent dead letter queue.
//
// The DB type implements both store contracts the pipeline consumes:
// idempotent batch event insertion keyed on event_id, and failed-event
// persistence with retry bookkeeping. Analytics queries aggregate the
// events table for the HTTP API.
package database
