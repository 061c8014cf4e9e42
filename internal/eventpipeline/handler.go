// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/jtciou26/notestream/internal/logging"
	"github.com/jtciou26/notestream/internal/metrics"
)

// Handler runs the normalization chain for each inbound message and hands
// the result to the appender for batch persistence.
//
// It is designed to work behind the Watermill router's middleware stack:
//   - Recoverer handles panics
//   - Retry handles transient failures
//   - PoisonQueue routes permanent failures to the dead-letter subject
//
// Error contract:
//   - Undecodable payloads and unresolvable required fields return
//     PermanentError (no retry, poison queue)
//   - Append failures return RetryableError (redelivery)
//
// Each message is processed independently; the handler keeps no state
// between messages beyond counters, so the router may run it concurrently.
type Handler struct {
	appender   *Appender
	normalizer *Normalizer
	config     HandlerConfig
	logger     watermill.LoggerAdapter

	messagesReceived  atomic.Int64
	messagesProcessed atomic.Int64
	decodeErrors      atomic.Int64
	validationErrors  atomic.Int64
	lastMessageTime   atomic.Value // stores time.Time
}

// NewHandler creates a handler writing normalized events through appender.
func NewHandler(appender *Appender, cfg HandlerConfig, logger watermill.LoggerAdapter) (*Handler, error) {
	if appender == nil {
		return nil, fmt.Errorf("appender required")
	}
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	h := &Handler{
		appender:   appender,
		normalizer: NewNormalizer(NormalizerConfig{DefaultEventName: cfg.DefaultEventName}),
		config:     cfg,
		logger:     logger,
	}
	h.lastMessageTime.Store(time.Time{})

	return h, nil
}

// Handle processes a single inbound message. This is the handler function
// passed to Router.AddConsumerHandler.
func (h *Handler) Handle(msg *message.Message) error {
	startTime := time.Now()
	h.messagesReceived.Add(1)
	h.lastMessageTime.Store(startTime)
	metrics.RecordConsume()

	doc, err := DecodePayload(msg.Payload)
	if err != nil {
		h.decodeErrors.Add(1)
		metrics.RecordDecodeFailure()
		h.logger.Error("Failed to decode payload", err, watermill.LogFields{
			"message_uuid": msg.UUID,
		})
		// The payload will never become valid on redelivery.
		return NewPermanentError("payload decode failed", err)
	}

	inter := Reconcile(doc)

	// A message that omits event_id gets one derived from the broker
	// message UUID, which is stable across redeliveries, instead of
	// fresh randomness per attempt.
	event, err := h.normalizer.Normalize(inter, DeriveEventID(msg.UUID))
	if err != nil {
		h.validationErrors.Add(1)
		metrics.RecordValidationFailure()
		h.logger.Error("Failed to normalize event", err, watermill.LogFields{
			"message_uuid": msg.UUID,
			"shape":        inter.Shape.String(),
		})
		return NewPermanentError("event validation failed", err)
	}

	ctx := context.Background()
	if msgCtx := msg.Context(); msgCtx != nil {
		ctx = msgCtx
	}

	logging.Trace().
		Str("event_id", event.EventID).
		Str("event_name", event.EventName).
		Str("shape", inter.Shape.String()).
		Int("params", len(event.Params)).
		Msg("Event normalized")

	if err := h.appender.Append(ctx, event); err != nil {
		h.logger.Error("Failed to append event", err, watermill.LogFields{
			"event_id": event.EventID,
		})
		return NewRetryableError("append failed", err)
	}

	// With SyncFlush the store write completes before the NATS message
	// is acked, closing the loss window between ack and async flush.
	if h.config.SyncFlush {
		if err := h.appender.Flush(ctx); err != nil {
			h.logger.Error("Failed to flush event synchronously", err, watermill.LogFields{
				"event_id": event.EventID,
			})
			return NewRetryableError("sync flush failed", err)
		}
	}

	h.messagesProcessed.Add(1)
	metrics.RecordNormalized(inter.Shape.String())
	metrics.RecordProcessingDuration(time.Since(startTime))

	return nil
}

// Stats returns current handler statistics.
func (h *Handler) Stats() HandlerStats {
	var lastTime time.Time
	if t, ok := h.lastMessageTime.Load().(time.Time); ok {
		lastTime = t
	}

	return HandlerStats{
		MessagesReceived:  h.messagesReceived.Load(),
		MessagesProcessed: h.messagesProcessed.Load(),
		DecodeErrors:      h.decodeErrors.Load(),
		ValidationErrors:  h.validationErrors.Load(),
		LastMessageTime:   lastTime,
	}
}

// HandlerStats holds runtime statistics.
type HandlerStats struct {
	MessagesReceived  int64
	MessagesProcessed int64
	DecodeErrors      int64
	ValidationErrors  int64
	LastMessageTime   time.Time
}
