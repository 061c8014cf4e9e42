// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP routing table.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a router around a handler and middleware factory.
func NewRouter(handler *Handler, middleware *Middleware) *Router {
	if middleware == nil {
		middleware = NewMiddleware(nil)
	}
	return &Router{
		handler:    handler,
		middleware: middleware,
	}
}

// Setup configures all HTTP routes using the chi router.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	// CORS must be global to handle OPTIONS preflight
	r.Use(router.middleware.CORS())

	// Health endpoints with permissive rate limiting so monitoring
	// probes are never throttled
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.middleware.RateLimitHealth())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Ingest and data endpoints
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())

		r.Post("/events", router.handler.Ingest)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/events", router.handler.EventCounts)
			r.Get("/volume", router.handler.Volume)
			r.Get("/devices", router.handler.Devices)
			r.Get("/browsers", router.handler.Browsers)
			r.Get("/countries", router.handler.Countries)
			r.Get("/subjects", router.handler.TopSubjects)
			r.Get("/recent", router.handler.Recent)
		})

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", router.handler.DLQList)
			r.Get("/stats", router.handler.DLQStats)
			r.Get("/{eventID}", router.handler.DLQGet)
			r.Post("/{eventID}/retry", router.handler.DLQRetry)
			r.Delete("/{eventID}", router.handler.DLQDelete)
		})
	})

	// Prometheus metrics for scraping, not rate limited
	r.Handle("/metrics", promhttp.Handler())

	return r
}
