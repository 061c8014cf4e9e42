// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline: message throughput per payload shape, normalization failures,
// sink batch flushes, per-row rejects and dead-letter activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	MessagesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notestream_messages_consumed_total",
			Help: "Total number of messages consumed from the broker",
		},
	)

	MessagesNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notestream_messages_normalized_total",
			Help: "Total number of messages normalized into canonical events",
		},
		[]string{"shape"}, // "params_array", "nested_object", "legacy_flat"
	)

	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notestream_decode_failures_total",
			Help: "Total number of payloads that failed to decode",
		},
	)

	ValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notestream_validation_failures_total",
			Help: "Total number of events rejected for missing required fields",
		},
	)

	AssignedEventIDs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notestream_assigned_event_ids_total",
			Help: "Total number of events that arrived without a producer-supplied id, by how the id was assigned",
		},
		[]string{"source"}, // "derived" (stable from message UUID), "generated" (fresh randomness)
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notestream_processing_duration_seconds",
			Help:    "Duration of end-to-end message processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sink metrics
	BatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notestream_batch_flush_duration_seconds",
			Help:    "Duration of sink batch flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notestream_batch_size",
			Help:    "Number of events per sink batch flush",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
		},
	)

	RowsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notestream_rows_inserted_total",
			Help: "Total number of event rows durably written to the store",
		},
	)

	RowsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notestream_rows_duplicate_total",
			Help: "Total number of event rows skipped as duplicates by event_id",
		},
	)

	RowsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notestream_rows_rejected_total",
			Help: "Total number of event rows rejected by store validation",
		},
	)

	TransportFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notestream_transport_failures_total",
			Help: "Total number of retryable store transport failures",
		},
	)

	// Publisher metrics
	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notestream_messages_published_total",
			Help: "Total number of messages published to the broker",
		},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notestream_publish_failures_total",
			Help: "Total number of failed broker publishes",
		},
	)

	// Dead-letter metrics
	DLQEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notestream_dlq_entries_total",
			Help: "Total number of events routed to the dead-letter path",
		},
		[]string{"category"},
	)

	DLQRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notestream_dlq_retries_total",
			Help: "Total number of dead-letter retry attempts",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	// Ingest API metrics
	IngestRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notestream_ingest_requests_total",
			Help: "Total number of HTTP ingest requests",
		},
		[]string{"status"},
	)
)

// RecordConsume records a message being consumed from the broker.
func RecordConsume() {
	MessagesConsumed.Inc()
}

// RecordNormalized records a message normalized from the given shape.
func RecordNormalized(shape string) {
	MessagesNormalized.WithLabelValues(shape).Inc()
}

// RecordDecodeFailure records a payload that failed to decode.
func RecordDecodeFailure() {
	DecodeFailures.Inc()
}

// RecordValidationFailure records an event rejected for missing fields.
func RecordValidationFailure() {
	ValidationFailures.Inc()
}

// RecordAssignedEventID records an event that arrived without a
// producer-supplied id. Source is "derived" when the id came from the
// broker message UUID and "generated" when it is fresh randomness.
func RecordAssignedEventID(source string) {
	AssignedEventIDs.WithLabelValues(source).Inc()
}

// RecordProcessingDuration records end-to-end message processing time.
func RecordProcessingDuration(duration time.Duration) {
	ProcessingDuration.Observe(duration.Seconds())
}

// RecordBatchFlush records a sink batch flush.
func RecordBatchFlush(duration time.Duration, batchSize int) {
	BatchFlushDuration.Observe(duration.Seconds())
	BatchSize.Observe(float64(batchSize))
}

// RecordSinkOutcome records the row-level outcome of one sink write.
func RecordSinkOutcome(inserted, duplicates, rejected int) {
	RowsInserted.Add(float64(inserted))
	RowsDuplicate.Add(float64(duplicates))
	RowsRejected.Add(float64(rejected))
}

// RecordTransportFailure records a retryable store transport failure.
func RecordTransportFailure() {
	TransportFailures.Inc()
}

// RecordPublish records a broker publish attempt.
func RecordPublish(err error) {
	if err != nil {
		PublishFailures.Inc()
		return
	}
	MessagesPublished.Inc()
}

// RecordDLQEntry records an event routed to the dead-letter path.
func RecordDLQEntry(category string) {
	DLQEntries.WithLabelValues(category).Inc()
}

// RecordDLQRetry records a dead-letter retry attempt.
func RecordDLQRetry(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	DLQRetries.WithLabelValues(outcome).Inc()
}

// RecordIngestRequest records an HTTP ingest request by status code.
func RecordIngestRequest(status string) {
	IngestRequests.WithLabelValues(status).Inc()
}
