// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"context"
	"fmt"
	"strings"
)

// RowError reports a single row the store rejected, by its index in the
// submitted batch. Per-row rejections are independent: a rejection at one
// index says nothing about the others.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// SinkResult is the outcome of one batch submission.
//
//   - Accepted: every row durably written (or already present).
//   - Partial failure: Rejected lists rows the store's validation turned
//     away; resubmitting those cannot succeed, so they are surfaced for
//     alerting instead of retried.
//   - Transport failure: the store call itself returns an error and no
//     outcome can be trusted; the whole batch is retried.
//
// Duplicates counts rows skipped by idempotent insertion on event_id,
// which is how redelivered messages land without double counting.
type SinkResult struct {
	Inserted   int
	Duplicates int
	Rejected   []RowError
}

// Accepted reports whether every submitted row was durably written or
// already present.
func (r SinkResult) Accepted() bool {
	return len(r.Rejected) == 0
}

// PartialFailureError wraps a SinkResult carrying rejected rows so the
// caller can alert on them. It is permanent: the rejected rows cannot
// succeed on resubmission.
type PartialFailureError struct {
	Result SinkResult
}

func (e *PartialFailureError) Error() string {
	reasons := make([]string, 0, len(e.Result.Rejected))
	for _, re := range e.Result.Rejected {
		reasons = append(reasons, fmt.Sprintf("row %d: %s", re.RowIndex, re.Reason))
	}
	return fmt.Sprintf("sink rejected %d of %d rows: %s",
		len(e.Result.Rejected),
		e.Result.Inserted+e.Result.Duplicates+len(e.Result.Rejected),
		strings.Join(reasons, "; "))
}

// EventStore is the contract the pipeline requires from the analytical
// store. A returned error means the store was unreachable or failed
// transiently (a transport failure, retried in full); per-row validation
// rejections are reported through the result instead and never retried.
//
// Writes are not transactional across events: a transport failure may
// leave a prefix of the batch durably written, which is safe because
// insertion is idempotent by event_id.
type EventStore interface {
	InsertEventsBatch(ctx context.Context, events []*Event) (SinkResult, error)
}
