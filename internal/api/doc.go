// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

/*
Package api provides the HTTP REST API layer for Notestream.

It exposes the ingestion endpoint, read-side analytics queries over the
DuckDB event store, and operational surfaces for the dead letter queue
and health checks.

Key Components:

  - Router: chi route configuration and middleware stack integration
  - Handler: request handlers for ingestion, analytics, DLQ, and health
  - Response formatting: standardized JSON envelopes with metadata
  - Rate limiting: per-IP limits via httprate
  - CORS: Cross-Origin Resource Sharing for browser clients

Endpoint Categories:

1. Ingestion (/api/v1/events):
  - POST accepts a raw or base64-wrapped JSON payload, normalizes it
    through the same pipeline the NATS consumer uses, and publishes
    the resulting event to JetStream (202 Accepted).

2. Analytics (/api/v1/analytics/):
  - Event counts by name, daily volume, device/browser/country
    breakdowns, top subjects, and recent events.

3. Dead Letter Queue (/api/v1/dlq/):
  - List, inspect, retry, and delete failed events; aggregate stats.

4. Health (/api/v1/health/):
  - Liveness, readiness backed by the component health checker, and a
    summary status endpoint.

Handlers depend on narrow interfaces (EventPublisher, AnalyticsStore,
DLQStore) so tests can substitute in-memory fakes without a database
or broker.
*/
package api
