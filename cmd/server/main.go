// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

// Package main is the entry point for the Notestream server.
//
// Notestream ingests note-taking activity events in three historical
// payload encodings, normalizes them into a canonical schema, and
// persists them to DuckDB for analytics. Events arrive over HTTP or
// NATS JetStream; failed events land in a persistent dead letter queue
// with automatic retry.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML, env)
//  2. Database: DuckDB analytical store with the events and
//     failed_events tables
//  3. Pipeline: embedded NATS JetStream server, publisher, Watermill
//     router with consumer and dead letter handlers, batch appender
//  4. HTTP Server: chi REST API for ingestion, analytics, DLQ
//     operations, and health probes
//
// All long-running components run under a suture supervisor tree with
// layered failure isolation.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the
// router stops consuming, the appender flushes its remaining batch to
// DuckDB, and the HTTP server drains in-flight requests with a 10s
// timeout.
//
// # Example Usage
//
// Development with an in-memory store:
//
//	export DATABASE_PATH=:memory:
//	export LOGGING_LEVEL=debug
//	./notestream
//
// Production with persistent storage:
//
//	export DATABASE_PATH=/data/notestream.db
//	export NATS_STORE_DIR=/data/nats/jetstream
//	./notestream
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jtciou26/notestream/internal/api"
	"github.com/jtciou26/notestream/internal/config"
	"github.com/jtciou26/notestream/internal/database"
	"github.com/jtciou26/notestream/internal/logging"
	"github.com/jtciou26/notestream/internal/supervisor"
	"github.com/jtciou26/notestream/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("embedded_nats", cfg.NATS.EmbeddedServer).
		Msg("Starting Notestream")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	slogLogger := logging.NewSlogLogger()

	tree, err := supervisor.NewTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	pipeline, err := InitPipeline(cfg, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize event pipeline")
	}

	handler := api.NewHandler(
		api.HandlerConfig{DLQMaxRetries: cfg.DLQ.MaxRetries},
		db,
		db,
		pipeline.Publisher(),
		pipeline.HealthChecker(),
	)

	middlewareCfg := api.DefaultMiddlewareConfig()
	middlewareCfg.CORSAllowedOrigins = cfg.Server.CORSOrigins
	if cfg.Server.RateLimitReqs > 0 {
		middlewareCfg.RateLimitRequests = cfg.Server.RateLimitReqs
	}
	if cfg.Server.RateLimitWindow > 0 {
		middlewareCfg.RateLimitWindow = cfg.Server.RateLimitWindow
	}
	router := api.NewRouter(handler, api.NewMiddleware(middlewareCfg))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Messaging layer: broker, router, consumer handlers.
	tree.AddMessagingService(services.NewPipelineService(pipeline))

	// Data layer: dead letter auto-retry.
	if worker := pipeline.RetryWorker(); worker != nil {
		tree.AddDataService(services.NewWorkerService("retry-worker", func(ctx context.Context) error {
			worker.Run(ctx)
			return ctx.Err()
		}))
	}

	// API layer: HTTP server.
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor finishes.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Notestream stopped gracefully")
}
