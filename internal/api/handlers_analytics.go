// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package api

import (
	"context"
	"net/http"

	"github.com/jtciou26/notestream/internal/database"
)

// listLimits bounds analytics listing parameters.
type listLimits struct {
	Limit int `validate:"min=1,max=1000"`
}

// timeRangeFromRequest reads optional since/until RFC3339 parameters.
func timeRangeFromRequest(r *http.Request) database.TimeRange {
	return database.TimeRange{
		Since: getTimeParam(r, "since"),
		Until: getTimeParam(r, "until"),
	}
}

// nameCountQuery is the shared shape of the grouped-count endpoints.
type nameCountQuery func(ctx context.Context, tr database.TimeRange) ([]database.NameCount, error)

// serveNameCounts runs a grouped-count query and writes the envelope.
func (h *Handler) serveNameCounts(w http.ResponseWriter, r *http.Request, what string, query nameCountQuery) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Database not available", nil)
		return
	}

	counts, err := query(r.Context(), timeRangeFromRequest(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query "+what, err)
		return
	}
	respondSuccess(w, http.StatusOK, counts, len(counts))
}

// EventCounts returns event volume grouped by event name.
func (h *Handler) EventCounts(w http.ResponseWriter, r *http.Request) {
	h.serveNameCounts(w, r, "event counts", h.store.EventCountsByName)
}

// Devices returns event volume grouped by device category.
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	h.serveNameCounts(w, r, "device breakdown", h.store.DeviceBreakdown)
}

// Browsers returns event volume grouped by browser.
func (h *Handler) Browsers(w http.ResponseWriter, r *http.Request) {
	h.serveNameCounts(w, r, "browser breakdown", h.store.BrowserBreakdown)
}

// Countries returns event volume grouped by country.
func (h *Handler) Countries(w http.ResponseWriter, r *http.Request) {
	h.serveNameCounts(w, r, "country breakdown", h.store.CountryBreakdown)
}

// Volume returns daily event counts.
func (h *Handler) Volume(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Database not available", nil)
		return
	}

	days, err := h.store.EventVolumeByDay(r.Context(), timeRangeFromRequest(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query daily volume", err)
		return
	}
	respondSuccess(w, http.StatusOK, days, len(days))
}

// TopSubjects returns the most active subjects.
func (h *Handler) TopSubjects(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Database not available", nil)
		return
	}

	limits := listLimits{Limit: getIntParam(r, "limit", 10)}
	if apiErr := validateRequest(&limits); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	subjects, err := h.store.TopSubjects(r.Context(), timeRangeFromRequest(r), limits.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query top subjects", err)
		return
	}
	respondSuccess(w, http.StatusOK, subjects, len(subjects))
}

// Recent returns the newest events.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Database not available", nil)
		return
	}

	limits := listLimits{Limit: getIntParam(r, "limit", 50)}
	if apiErr := validateRequest(&limits); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	events, err := h.store.RecentEvents(r.Context(), limits.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query recent events", err)
		return
	}
	respondSuccess(w, http.StatusOK, events, len(events))
}
