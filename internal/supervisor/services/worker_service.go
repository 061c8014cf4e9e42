// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package services

import "context"

// WorkerService wraps a run function that blocks until its context is
// canceled. It is used for loop-shaped components like the dead letter
// retry worker and the appender flush loop, whose Run methods already
// speak context.
type WorkerService struct {
	run  func(ctx context.Context) error
	name string
}

// NewWorkerService creates a worker service around a blocking run
// function. For workers whose Run returns nothing, wrap them in a
// closure returning ctx.Err().
func NewWorkerService(name string, run func(ctx context.Context) error) *WorkerService {
	return &WorkerService{
		run:  run,
		name: name,
	}
}

// Serve implements suture.Service.
func (s *WorkerService) Serve(ctx context.Context) error {
	return s.run(ctx)
}

// String implements fmt.Stringer for suture's log messages.
func (s *WorkerService) String() string {
	return s.name
}
