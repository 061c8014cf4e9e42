// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jtciou26/notestream/internal/eventpipeline"
)

// DLQEntryView is the API representation of a dead letter entry. The
// raw payload is omitted from listings; operators fetch a single entry
// to see it.
type DLQEntryView struct {
	EventID       string    `json:"event_id"`
	MessageID     string    `json:"message_id"`
	Payload       string    `json:"payload,omitempty"`
	OriginalError string    `json:"original_error"`
	LastError     string    `json:"last_error"`
	RetryCount    int       `json:"retry_count"`
	MaxRetries    int       `json:"max_retries"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	NextRetry     time.Time `json:"next_retry"`
	Category      string    `json:"category"`
	Status        string    `json:"status"`
}

// dlqEntryView converts an internal entry, classifying its status.
func (h *Handler) dlqEntryView(entry *eventpipeline.DLQEntry, includePayload bool) DLQEntryView {
	status := "pending"
	if entry.RetryCount >= h.cfg.DLQMaxRetries {
		status = "permanent"
	}

	view := DLQEntryView{
		EventID:       entry.EventID,
		MessageID:     entry.MessageID,
		OriginalError: entry.OriginalError,
		LastError:     entry.LastError,
		RetryCount:    entry.RetryCount,
		MaxRetries:    h.cfg.DLQMaxRetries,
		FirstFailure:  entry.FirstFailure,
		LastFailure:   entry.LastFailure,
		NextRetry:     entry.NextRetry,
		Category:      string(entry.Category),
		Status:        status,
	}
	if includePayload {
		view.Payload = string(entry.Payload)
	}
	return view
}

// DLQList returns all dead letter entries, oldest first.
func (h *Handler) DLQList(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Dead letter queue not available", nil)
		return
	}

	entries, err := h.dlq.ListFailedEvents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list dead letter entries", err)
		return
	}

	views := make([]DLQEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, h.dlqEntryView(entry, false))
	}
	respondSuccess(w, http.StatusOK, views, len(views))
}

// DLQGet returns one dead letter entry including its raw payload.
func (h *Handler) DLQGet(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Dead letter queue not available", nil)
		return
	}

	eventID := chi.URLParam(r, "eventID")
	entry, err := h.dlq.GetFailedEvent(r.Context(), eventID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to get dead letter entry", err)
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Dead letter entry not found", nil)
		return
	}

	respondSuccess(w, http.StatusOK, h.dlqEntryView(entry, true), 1)
}

// DLQRetry schedules one entry for immediate retry by moving its next
// retry time to now. The auto-retry worker picks it up on its next
// scan.
func (h *Handler) DLQRetry(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Dead letter queue not available", nil)
		return
	}

	eventID := chi.URLParam(r, "eventID")
	entry, err := h.dlq.GetFailedEvent(r.Context(), eventID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to get dead letter entry", err)
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Dead letter entry not found", nil)
		return
	}
	if !entry.Category.Retryable() {
		// Republishing the stored payload reproduces the same validation
		// failure; the entry can only be deleted and the event reingested.
		respondError(w, http.StatusConflict, "NOT_RETRYABLE", "Validation failures cannot be retried", nil)
		return
	}

	entry.NextRetry = h.now().UTC()
	if entry.RetryCount >= h.cfg.DLQMaxRetries {
		// Manual retry of a permanently failed entry gets one more
		// attempt by rewinding the counter below the cap.
		entry.RetryCount = h.cfg.DLQMaxRetries - 1
	}

	if err := h.dlq.UpdateFailedEvent(r.Context(), entry); err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to schedule retry", err)
		return
	}

	respondSuccess(w, http.StatusAccepted, h.dlqEntryView(entry, false), 1)
}

// DLQDelete removes one dead letter entry.
func (h *Handler) DLQDelete(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Dead letter queue not available", nil)
		return
	}

	eventID := chi.URLParam(r, "eventID")
	entry, err := h.dlq.GetFailedEvent(r.Context(), eventID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to get dead letter entry", err)
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Dead letter entry not found", nil)
		return
	}

	if err := h.dlq.DeleteFailedEvent(r.Context(), eventID); err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete dead letter entry", err)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]string{"event_id": eventID}, 1)
}

// DLQStats summarizes the dead letter queue.
func (h *Handler) DLQStats(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Dead letter queue not available", nil)
		return
	}

	total, err := h.dlq.CountFailedEvents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to count dead letter entries", err)
		return
	}

	entries, err := h.dlq.ListFailedEvents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list dead letter entries", err)
		return
	}

	byCategory := make(map[string]int64)
	byStatus := map[string]int64{"pending": 0, "permanent": 0}
	for _, entry := range entries {
		byCategory[string(entry.Category)]++
		if entry.RetryCount >= h.cfg.DLQMaxRetries {
			byStatus["permanent"]++
		} else {
			byStatus["pending"]++
		}
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"total_entries":       total,
		"entries_by_category": byCategory,
		"entries_by_status":   byStatus,
	}, int(total))
}
