// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package api

import (
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/jtciou26/notestream/internal/eventpipeline"
	"github.com/jtciou26/notestream/internal/logging"
	"github.com/jtciou26/notestream/internal/metrics"
)

// IngestResponse acknowledges an accepted event.
type IngestResponse struct {
	EventID   string `json:"event_id"`
	EventName string `json:"event_name"`
	Shape     string `json:"shape"`
}

// Ingest accepts one event document, normalizes it and publishes it to
// the broker. The payload may use any of the three supported encodings;
// it goes through the same decode, reconcile and normalize steps as
// broker-delivered messages, so an event is accepted here exactly when
// the consumer would accept it.
//
// Transport attribution (client IP, user agent) fills user context
// fields the payload itself does not carry. Producer-supplied context
// always wins.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		metrics.RecordIngestRequest("unavailable")
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Event publishing not available", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			metrics.RecordIngestRequest("too_large")
			respondError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
			return
		}
		metrics.RecordIngestRequest("error")
		respondError(w, http.StatusBadRequest, "READ_ERROR", "Failed to read request body", err)
		return
	}

	doc, err := eventpipeline.DecodePayload(body)
	if err != nil {
		metrics.RecordIngestRequest("invalid")
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Payload is not a JSON object", err)
		return
	}

	inter := eventpipeline.Reconcile(doc)
	h.fillTransportContext(inter, r)

	event, err := h.normalizer.Normalize(inter, eventpipeline.GenerateEventID())
	if err != nil {
		var validationErr *eventpipeline.ValidationError
		if errors.As(err, &validationErr) {
			metrics.RecordIngestRequest("validation_failed")
			respondJSON(w, http.StatusBadRequest, &APIResponse{
				Status:   "error",
				Metadata: Metadata{Timestamp: h.now().UTC()},
				Error: &APIError{
					Code:    "VALIDATION_ERROR",
					Message: validationErr.Error(),
					Details: map[string]interface{}{
						"missing_fields": validationErr.MissingFields,
					},
				},
			})
			return
		}
		metrics.RecordIngestRequest("error")
		respondError(w, http.StatusBadRequest, "NORMALIZE_ERROR", "Event could not be normalized", err)
		return
	}

	if err := h.publisher.PublishEvent(r.Context(), event); err != nil {
		metrics.RecordIngestRequest("publish_failed")
		respondError(w, http.StatusServiceUnavailable, "PUBLISH_ERROR", "Event could not be published", err)
		return
	}

	metrics.RecordIngestRequest("accepted")
	logging.Debug().
		Str("event_id", event.EventID).
		Str("event_name", event.EventName).
		Str("shape", inter.Shape.String()).
		Msg("Event ingested")

	respondSuccess(w, http.StatusAccepted, IngestResponse{
		EventID:   event.EventID,
		EventName: event.EventName,
		Shape:     inter.Shape.String(),
	}, 1)
}

// fillTransportContext fills inferred user context gaps from the HTTP
// request. Payload-derived context, explicit or inferred, is never
// overwritten.
func (h *Handler) fillTransportContext(inter *eventpipeline.Intermediate, r *http.Request) {
	if inter.InferredContext == nil {
		inter.InferredContext = eventpipeline.ContextFromUserAgent(r.UserAgent())
	}

	ip := clientIP(r)
	if ip == "" {
		return
	}
	if inter.InferredContext == nil {
		inter.InferredContext = &eventpipeline.UserContext{}
	}
	if inter.InferredContext.IPAddress == nil {
		inter.InferredContext.IPAddress = &ip
	}
}

// clientIP extracts the request's remote IP. RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port, as RealIP leaves it
		return r.RemoteAddr
	}
	return host
}
