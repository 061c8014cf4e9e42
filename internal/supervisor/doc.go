// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

/*
Package supervisor provides the suture-based supervision tree for
Notestream.

The tree isolates failures into three layers:

  - data: DuckDB appender and dead letter retry worker
  - messaging: embedded NATS server, JetStream consumer, Watermill router
  - api: HTTP server

A crash in the messaging layer restarts only the broker components; the
API layer keeps serving analytics queries from the store. Supervisor
lifecycle events are logged through sutureslog into the process-wide
zerolog output.

Service wrappers in the services subpackage adapt the components'
Start/Run/Shutdown lifecycles to suture's context-driven Serve pattern.
*/
package supervisor
