// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

// Package services adapts Notestream component lifecycles to suture's
// Serve(ctx) pattern. Each wrapper translates one lifecycle shape:
//
//   - HTTPServerService: blocking ListenAndServe with graceful Shutdown
//   - PipelineService: Start/Shutdown component bundles (NATS stack)
//   - WorkerService: run functions that block until context cancel
//
// Wrappers implement fmt.Stringer so suture logs name them usefully.
package services
