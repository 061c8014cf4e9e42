// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	natsgo "github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/jtciou26/notestream/internal/metrics"
)

// DLQEntry represents a failed message persisted to the dead letter
// store. The raw payload is kept verbatim so a retry goes through the
// full decode path again.
type DLQEntry struct {
	// EventID identifies the entry. For payloads that never resolved to
	// an event it is derived from the broker message UUID.
	EventID string

	// MessageID is the original broker message UUID.
	MessageID string

	// Payload is the raw message payload as received.
	Payload []byte

	// OriginalError is the failure reason recorded on first arrival.
	OriginalError string

	// LastError is the failure reason from the most recent retry.
	LastError string

	// RetryCount is the number of retry attempts made so far.
	RetryCount int

	// FirstFailure is when the message first landed in the DLQ.
	FirstFailure time.Time

	// LastFailure is when the most recent failure occurred.
	LastFailure time.Time

	// NextRetry is the earliest time for the next retry attempt.
	NextRetry time.Time

	// Category classifies the failure for metrics and routing.
	Category ErrorCategory
}

// NewDLQEntry builds an entry from a poisoned message. The event ID is
// recovered from the payload when it deserializes, otherwise derived
// from the message UUID so the entry key stays stable across
// redeliveries.
func NewDLQEntry(msg *message.Message, reason string) *DLQEntry {
	now := time.Now()

	eventID := ""
	if event, err := DeserializeEvent(msg.Payload); err == nil && event.EventID != "" {
		eventID = event.EventID
	}
	if eventID == "" {
		eventID = DeriveEventID(msg.UUID)
	}

	return &DLQEntry{
		EventID:       eventID,
		MessageID:     msg.UUID,
		Payload:       msg.Payload,
		OriginalError: reason,
		LastError:     reason,
		RetryCount:    0,
		FirstFailure:  now,
		LastFailure:   now,
		NextRetry:     now,
		Category:      categorizeError(reason, nil),
	}
}

// FailedEventStore is the persistence backend for dead letter entries.
// Implementations must key entries by EventID.
type FailedEventStore interface {
	// SaveFailedEvent inserts or refreshes an entry.
	SaveFailedEvent(ctx context.Context, entry *DLQEntry) error

	// GetFailedEvent retrieves an entry by event ID. Returns nil, nil
	// when not found.
	GetFailedEvent(ctx context.Context, eventID string) (*DLQEntry, error)

	// UpdateFailedEvent modifies retry bookkeeping for an existing entry.
	UpdateFailedEvent(ctx context.Context, entry *DLQEntry) error

	// DeleteFailedEvent removes an entry by event ID.
	DeleteFailedEvent(ctx context.Context, eventID string) error

	// ListFailedEvents returns all entries ordered by first failure.
	ListFailedEvents(ctx context.Context) ([]*DLQEntry, error)

	// PendingFailedEvents returns retry-eligible entries: NextRetry has
	// passed, retry count is below maxRetries, and the category is
	// retryable. Validation entries never qualify; their payload cannot
	// change, so automatic republishing would loop forever.
	PendingFailedEvents(ctx context.Context, before time.Time, maxRetries int) ([]*DLQEntry, error)

	// DeleteResolvedFailedEvents removes entries whose event has since
	// landed in the event store, confirming a retry succeeded end to end.
	// Returns the number removed.
	DeleteResolvedFailedEvents(ctx context.Context) (int64, error)

	// DeleteExpiredFailedEvents removes entries that first failed before
	// the cutoff. Returns the number removed.
	DeleteExpiredFailedEvents(ctx context.Context, olderThan time.Time) (int64, error)

	// CountFailedEvents returns the total number of entries.
	CountFailedEvents(ctx context.Context) (int64, error)
}

// DLQConfig holds configuration for the dead letter queue.
type DLQConfig struct {
	// MaxRetries is the maximum number of retry attempts before an entry
	// is left for manual intervention.
	MaxRetries int

	// RetentionTime is how long to keep entries before cleanup.
	RetentionTime time.Duration

	// InitialBackoff is the initial backoff duration for retries.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential backoff multiplier.
	BackoffMultiplier float64

	// JitterFraction is the random jitter fraction (0.0-1.0).
	JitterFraction float64
}

// DefaultDLQConfig returns production defaults for the DLQ.
func DefaultDLQConfig() DLQConfig {
	return DLQConfig{
		MaxRetries:        5,
		RetentionTime:     7 * 24 * time.Hour,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// RetryPolicy computes retry eligibility and backoff with jitter.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential multiplier.
	BackoffMultiplier float64

	// JitterFraction is the random jitter fraction (0.0-1.0).
	JitterFraction float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRetryPolicy builds a policy from DLQ configuration.
func NewRetryPolicy(cfg DLQConfig) *RetryPolicy {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = cfg.InitialBackoff * 64
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.JitterFraction <= 0 || cfg.JitterFraction > 1.0 {
		cfg.JitterFraction = 0.1
	}

	return &RetryPolicy{
		MaxRetries:        cfg.MaxRetries,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
		JitterFraction:    cfg.JitterFraction,
		rng:               rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// CalculateBackoff returns the backoff duration for a retry count,
// capped at MaxBackoff with symmetric jitter applied.
func (p *RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(retryCount))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	p.rngMu.Lock()
	jitter := backoff * p.JitterFraction * (p.rng.Float64()*2 - 1)
	p.rngMu.Unlock()

	return time.Duration(backoff + jitter)
}

// ShouldRetry reports whether an error is worth another attempt.
func (p *RetryPolicy) ShouldRetry(err error, retryCount int) bool {
	if retryCount >= p.MaxRetries {
		return false
	}
	return !IsPermanentError(err)
}

// DLQStats holds runtime counters for the DLQ handler.
type DLQStats struct {
	EntriesRecorded int64
	SaveFailures    int64
}

// DLQHandler consumes the poison topic and persists failed messages to
// the dead letter store.
type DLQHandler struct {
	store  FailedEventStore
	policy *RetryPolicy
	config DLQConfig
	logger watermill.LoggerAdapter

	entriesRecorded atomic.Int64
	saveFailures    atomic.Int64
}

// NewDLQHandler creates a poison topic consumer backed by the given
// store.
func NewDLQHandler(store FailedEventStore, cfg DLQConfig, logger watermill.LoggerAdapter) (*DLQHandler, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: failed event store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	return &DLQHandler{
		store:  store,
		policy: NewRetryPolicy(cfg),
		config: cfg,
		logger: logger,
	}, nil
}

// Handle persists a poisoned message. Returning an error redelivers the
// poison message, so only store failures propagate.
func (h *DLQHandler) Handle(msg *message.Message) error {
	reason := msg.Metadata.Get(middleware.ReasonForPoisonedKey)
	if reason == "" {
		reason = "unknown failure"
	}

	entry := NewDLQEntry(msg, reason)
	entry.NextRetry = time.Now().Add(h.policy.CalculateBackoff(0))

	ctx, cancel := context.WithTimeout(msg.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.SaveFailedEvent(ctx, entry); err != nil {
		h.saveFailures.Add(1)
		h.logger.Error("Failed to persist dead letter entry", err, watermill.LogFields{
			"event_id":   entry.EventID,
			"message_id": entry.MessageID,
		})
		return NewRetryableError("save dead letter entry", err)
	}

	h.entriesRecorded.Add(1)
	metrics.RecordDLQEntry(string(entry.Category))

	h.logger.Info("Dead letter entry recorded", watermill.LogFields{
		"event_id": entry.EventID,
		"category": string(entry.Category),
		"reason":   reason,
	})

	return nil
}

// Cleanup removes entries older than the retention window.
func (h *DLQHandler) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-h.config.RetentionTime)
	return h.store.DeleteExpiredFailedEvents(ctx, cutoff)
}

// Stats returns runtime counters.
func (h *DLQHandler) Stats() DLQStats {
	return DLQStats{
		EntriesRecorded: h.entriesRecorded.Load(),
		SaveFailures:    h.saveFailures.Load(),
	}
}

// AutoRetryConfig configures the background retry worker.
type AutoRetryConfig struct {
	// RetryInterval is how often to check for pending retries.
	RetryInterval time.Duration

	// CleanupInterval is how often to purge entries past retention.
	CleanupInterval time.Duration

	// RetryRate limits republishes per second across a retry sweep.
	RetryRate rate.Limit

	// RetryBurst is the limiter burst size.
	RetryBurst int
}

// DefaultAutoRetryConfig returns production defaults.
func DefaultAutoRetryConfig() AutoRetryConfig {
	return AutoRetryConfig{
		RetryInterval:   30 * time.Second,
		CleanupInterval: time.Hour,
		RetryRate:       rate.Limit(50),
		RetryBurst:      10,
	}
}

// AutoRetryWorker republishes pending dead letter entries to the main
// topic on a schedule, rate limited to avoid flooding the broker after
// an outage.
type AutoRetryWorker struct {
	store     FailedEventStore
	publisher *Publisher
	policy    *RetryPolicy
	dlq       *DLQHandler
	config    AutoRetryConfig
	limiter   *rate.Limiter
	logger    watermill.LoggerAdapter
}

// NewAutoRetryWorker creates a retry worker.
func NewAutoRetryWorker(store FailedEventStore, publisher *Publisher, dlq *DLQHandler, cfg AutoRetryConfig, logger watermill.LoggerAdapter) (*AutoRetryWorker, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: failed event store is required", ErrInvalidConfig)
	}
	if publisher == nil {
		return nil, ErrNilPublisher
	}
	if dlq == nil {
		return nil, fmt.Errorf("%w: DLQ handler is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.RetryRate <= 0 {
		cfg.RetryRate = rate.Limit(50)
	}
	if cfg.RetryBurst <= 0 {
		cfg.RetryBurst = 10
	}

	return &AutoRetryWorker{
		store:     store,
		publisher: publisher,
		policy:    dlq.policy,
		dlq:       dlq,
		config:    cfg,
		limiter:   rate.NewLimiter(cfg.RetryRate, cfg.RetryBurst),
		logger:    logger,
	}, nil
}

// Run processes pending retries until the context is canceled.
func (w *AutoRetryWorker) Run(ctx context.Context) {
	retryTicker := time.NewTicker(w.config.RetryInterval)
	defer retryTicker.Stop()
	cleanupTicker := time.NewTicker(w.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-retryTicker.C:
			w.processPending(ctx)
		case <-cleanupTicker.C:
			if removed, err := w.dlq.Cleanup(ctx); err != nil {
				w.logger.Error("DLQ cleanup failed", err, nil)
			} else if removed > 0 {
				w.logger.Info("DLQ cleanup removed expired entries", watermill.LogFields{
					"removed": removed,
				})
			}
		}
	}
}

// processPending republishes all entries whose backoff has elapsed.
// Entries whose event made it into the store since the last sweep are
// settled first, so a successful retry is forgotten rather than
// republished again.
func (w *AutoRetryWorker) processPending(ctx context.Context) {
	if resolved, err := w.store.DeleteResolvedFailedEvents(ctx); err != nil {
		w.logger.Error("Failed to settle resolved entries", err, nil)
	} else if resolved > 0 {
		w.logger.Info("Settled dead letter entries whose events landed", watermill.LogFields{
			"resolved": resolved,
		})
	}

	entries, err := w.store.PendingFailedEvents(ctx, time.Now(), w.policy.MaxRetries)
	if err != nil {
		w.logger.Error("Failed to list pending retries", err, nil)
		return
	}

	for _, entry := range entries {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		w.retryEntry(ctx, entry)
	}
}

// retryEntry republishes a single entry and advances its retry
// bookkeeping. The entry is never deleted here: a republish only proves
// the broker took the message, not that it normalized. The resolved
// sweep in processPending removes the entry once the event reaches the
// store; until then the counter keeps climbing toward MaxRetries, after
// which the entry is left for manual intervention.
func (w *AutoRetryWorker) retryEntry(ctx context.Context, entry *DLQEntry) {
	// Keep the original message UUID so a payload without a producer
	// event ID resolves to the same derived event ID as the first
	// delivery. The broker dedup header gets a retry suffix so JetStream
	// does not drop the republish inside the duplicate window.
	msg := message.NewMessage(entry.MessageID, entry.Payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, fmt.Sprintf("%s-retry-%d", entry.MessageID, entry.RetryCount+1))

	err := w.publisher.Publish(ctx, TopicNoteEvents, msg)

	entry.RetryCount++
	entry.NextRetry = time.Now().Add(w.policy.CalculateBackoff(entry.RetryCount))
	if err != nil {
		metrics.RecordDLQRetry(false)
		entry.LastError = err.Error()
		entry.LastFailure = time.Now()
	} else {
		metrics.RecordDLQRetry(true)
	}

	if updateErr := w.store.UpdateFailedEvent(ctx, entry); updateErr != nil {
		w.logger.Error("Failed to update retry bookkeeping", updateErr, watermill.LogFields{
			"event_id": entry.EventID,
		})
		return
	}

	if err == nil {
		w.logger.Info("Dead letter entry republished", watermill.LogFields{
			"event_id":    entry.EventID,
			"retry_count": entry.RetryCount,
		})
	}
}
