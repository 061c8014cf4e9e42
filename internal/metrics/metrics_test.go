// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSinkOutcome(t *testing.T) {
	before := testutil.ToFloat64(RowsInserted)
	RecordSinkOutcome(3, 1, 2)

	if got := testutil.ToFloat64(RowsInserted) - before; got != 3 {
		t.Errorf("Expected 3 inserted rows recorded, got %v", got)
	}
}

func TestRecordPublish(t *testing.T) {
	okBefore := testutil.ToFloat64(MessagesPublished)
	failBefore := testutil.ToFloat64(PublishFailures)

	RecordPublish(nil)
	RecordPublish(errors.New("broker down"))

	if got := testutil.ToFloat64(MessagesPublished) - okBefore; got != 1 {
		t.Errorf("Expected 1 successful publish recorded, got %v", got)
	}
	if got := testutil.ToFloat64(PublishFailures) - failBefore; got != 1 {
		t.Errorf("Expected 1 failed publish recorded, got %v", got)
	}
}

func TestRecordDLQRetry(t *testing.T) {
	before := testutil.ToFloat64(DLQRetries.WithLabelValues("success"))
	RecordDLQRetry(true)

	if got := testutil.ToFloat64(DLQRetries.WithLabelValues("success")) - before; got != 1 {
		t.Errorf("Expected 1 successful retry recorded, got %v", got)
	}
}

func TestRecordAssignedEventID(t *testing.T) {
	derivedBefore := testutil.ToFloat64(AssignedEventIDs.WithLabelValues("derived"))
	generatedBefore := testutil.ToFloat64(AssignedEventIDs.WithLabelValues("generated"))

	RecordAssignedEventID("derived")
	RecordAssignedEventID("derived")
	RecordAssignedEventID("generated")

	if got := testutil.ToFloat64(AssignedEventIDs.WithLabelValues("derived")) - derivedBefore; got != 2 {
		t.Errorf("Expected 2 derived ids recorded, got %v", got)
	}
	if got := testutil.ToFloat64(AssignedEventIDs.WithLabelValues("generated")) - generatedBefore; got != 1 {
		t.Errorf("Expected 1 generated id recorded, got %v", got)
	}
}

func TestRecordBatchFlushDoesNotPanic(t *testing.T) {
	RecordBatchFlush(10*time.Millisecond, 100)
	RecordNormalized("legacy_flat")
	RecordProcessingDuration(time.Millisecond)
}
