// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package services

import (
	"context"
	"fmt"
	"time"
)

// PipelineRunner matches the lifecycle of the messaging component
// bundle assembled in cmd/server: the embedded NATS server, JetStream
// connection, publisher, Watermill router, and consumer handlers.
type PipelineRunner interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context)
	IsRunning() bool
}

// PipelineService wraps a component bundle as a supervised service.
// Start failures return immediately so suture restarts the bundle
// under its backoff policy; otherwise the service blocks until context
// cancellation and shuts the bundle down with a bounded timeout.
type PipelineService struct {
	runner          PipelineRunner
	shutdownTimeout time.Duration
	name            string
}

// NewPipelineService creates a pipeline service wrapper with a 10s
// shutdown timeout.
func NewPipelineService(runner PipelineRunner) *PipelineService {
	return NewPipelineServiceWithTimeout(runner, 10*time.Second)
}

// NewPipelineServiceWithTimeout creates a pipeline service wrapper with
// a custom shutdown timeout.
func NewPipelineServiceWithTimeout(runner PipelineRunner, shutdownTimeout time.Duration) *PipelineService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &PipelineService{
		runner:          runner,
		shutdownTimeout: shutdownTimeout,
		name:            "event-pipeline",
	}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	if err := s.runner.Start(ctx); err != nil {
		return fmt.Errorf("pipeline start failed: %w", err)
	}

	<-ctx.Done()

	// Fresh context for shutdown since the original is canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.runner.Shutdown(shutdownCtx)

	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (s *PipelineService) String() string {
	return s.name
}
