// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

// Package eventpipeline normalizes note events from historically divergent
// producer encodings into one canonical, strongly typed record and delivers
// it to the analytical store.
//
// The pipeline is a chain of small stages:
//
//	DecodePayload -> Reconcile -> InferParam (per field) -> Normalize -> Appender
//
// Decoding and the sink are the only stages that touch the outside world.
// Everything between them is a pure transformation, processed independently
// per message with no shared state, so the hosting router may run handlers
// concurrently without coordination.
//
// Producers publish through Recorder, which serializes events onto a NATS
// JetStream subject. Consumers run behind a Watermill router whose middleware
// stack owns retries and poison-queue routing; the handler distinguishes
// permanent failures (undecodable payloads, unresolvable required fields)
// from retryable ones (sink transport errors) so only the latter trigger
// redelivery.
package eventpipeline
