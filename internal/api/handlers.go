// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package api

import (
	"context"
	"time"

	"github.com/jtciou26/notestream/internal/database"
	"github.com/jtciou26/notestream/internal/eventpipeline"
)

// EventPublisher publishes normalized events to the broker. The ingest
// endpoint depends on this narrow interface so tests can capture
// publishes without a running NATS server.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *eventpipeline.Event) error
}

// AnalyticsStore is the read surface the analytics handlers need from
// the database.
type AnalyticsStore interface {
	CountEvents(ctx context.Context) (int64, error)
	EventCountsByName(ctx context.Context, tr database.TimeRange) ([]database.NameCount, error)
	EventVolumeByDay(ctx context.Context, tr database.TimeRange) ([]database.DayCount, error)
	DeviceBreakdown(ctx context.Context, tr database.TimeRange) ([]database.NameCount, error)
	BrowserBreakdown(ctx context.Context, tr database.TimeRange) ([]database.NameCount, error)
	CountryBreakdown(ctx context.Context, tr database.TimeRange) ([]database.NameCount, error)
	TopSubjects(ctx context.Context, tr database.TimeRange, limit int) ([]database.SubjectActivity, error)
	RecentEvents(ctx context.Context, limit int) ([]database.RecentEvent, error)
	Ping(ctx context.Context) error
}

// DLQStore is the dead letter surface the DLQ handlers need.
type DLQStore interface {
	ListFailedEvents(ctx context.Context) ([]*eventpipeline.DLQEntry, error)
	GetFailedEvent(ctx context.Context, eventID string) (*eventpipeline.DLQEntry, error)
	UpdateFailedEvent(ctx context.Context, entry *eventpipeline.DLQEntry) error
	DeleteFailedEvent(ctx context.Context, eventID string) error
	CountFailedEvents(ctx context.Context) (int64, error)
}

// HandlerConfig holds handler tuning.
type HandlerConfig struct {
	// MaxBodyBytes caps ingest request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64

	// DLQMaxRetries is surfaced in DLQ listings so callers can tell
	// pending entries from permanently failed ones.
	DLQMaxRetries int
}

// DefaultHandlerConfig returns handler defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		MaxBodyBytes:  1 << 20,
		DLQMaxRetries: 5,
	}
}

// Handler implements all HTTP endpoints.
type Handler struct {
	cfg        HandlerConfig
	store      AnalyticsStore
	dlq        DLQStore
	publisher  EventPublisher
	health     *eventpipeline.HealthChecker
	normalizer *eventpipeline.Normalizer
	startTime  time.Time

	// now is swappable in tests
	now func() time.Time
}

// NewHandler wires the endpoint dependencies. Any of store, dlq,
// publisher and health may be nil; the affected endpoints report
// service unavailability instead of panicking.
func NewHandler(cfg HandlerConfig, store AnalyticsStore, dlq DLQStore, publisher EventPublisher, health *eventpipeline.HealthChecker) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultHandlerConfig().MaxBodyBytes
	}
	if cfg.DLQMaxRetries <= 0 {
		cfg.DLQMaxRetries = DefaultHandlerConfig().DLQMaxRetries
	}

	return &Handler{
		cfg:        cfg,
		store:      store,
		dlq:        dlq,
		publisher:  publisher,
		health:     health,
		normalizer: eventpipeline.NewNormalizer(eventpipeline.NormalizerConfig{}),
		startTime:  time.Now(),
		now:        time.Now,
	}
}
