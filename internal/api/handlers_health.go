// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package api

import (
	"net/http"
	"time"

	"github.com/jtciou26/notestream/internal/eventpipeline"
)

// HealthStatus is the top-level health report.
type HealthStatus struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	DatabaseConnected bool    `json:"database_connected"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Version is stamped at build time via -ldflags.
var Version = "dev"

// HealthLive is the liveness probe. It answers as long as the process
// serves HTTP, with no dependency checks, so orchestrators never
// restart the process because a dependency blipped.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"}, 0)
}

// HealthReady is the readiness probe. It runs the registered component
// checks and reports 503 while any component is unhealthy, which takes
// the instance out of rotation without restarting it.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		respondSuccess(w, http.StatusOK, map[string]string{"status": "ready"}, 0)
		return
	}

	overall := h.health.CheckAll(r.Context())
	status := http.StatusOK
	if !overall.Healthy {
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, status, overall, len(overall.Components))
}

// Health reports overall service health including database
// connectivity and uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.store != nil && h.store.Ping(r.Context()) == nil

	status := "healthy"
	if !dbConnected {
		status = "degraded"
	}
	if h.health != nil {
		overall := h.health.CheckAll(r.Context())
		if !overall.Healthy {
			status = string(eventpipeline.HealthStatusUnhealthy)
		} else if overall.Status != eventpipeline.HealthStatusHealthy {
			status = string(overall.Status)
		}
	}

	respondSuccess(w, http.StatusOK, HealthStatus{
		Status:            status,
		Version:           Version,
		DatabaseConnected: dbConnected,
		UptimeSeconds:     time.Since(h.startTime).Seconds(),
	}, 0)
}
