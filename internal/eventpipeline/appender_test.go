// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeEventStore records batches and simulates transport failures,
// duplicates, and per-row rejections.
type fakeEventStore struct {
	mu       sync.Mutex
	batches  [][]*Event
	inserted map[string]bool

	failNext   int
	rejectKeys map[string]string
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		inserted:   make(map[string]bool),
		rejectKeys: make(map[string]string),
	}
}

func (s *fakeEventStore) InsertEventsBatch(ctx context.Context, events []*Event) (SinkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext > 0 {
		s.failNext--
		return SinkResult{}, errors.New("connection refused")
	}

	copied := make([]*Event, len(events))
	copy(copied, events)
	s.batches = append(s.batches, copied)

	var result SinkResult
	for i, event := range events {
		if reason, rejected := s.rejectKeys[event.EventID]; rejected {
			result.Rejected = append(result.Rejected, RowError{RowIndex: i, Reason: reason})
			continue
		}
		if s.inserted[event.EventID] {
			result.Duplicates++
			continue
		}
		s.inserted[event.EventID] = true
		result.Inserted++
	}
	return result, nil
}

func (s *fakeEventStore) insertedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

func testEvent(id string) *Event {
	return &Event{
		EventID:   id,
		EventName: EventNoteCreated,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Params:    []Param{StringParam("note_id", "n1")},
	}
}

func newTestAppender(t *testing.T, store EventStore, batchSize int) *Appender {
	t.Helper()
	a, err := NewAppender(store, AppenderConfig{
		BatchSize:     batchSize,
		FlushInterval: time.Hour, // Tests flush explicitly
	})
	if err != nil {
		t.Fatalf("NewAppender failed: %v", err)
	}
	return a
}

func TestAppender_FlushWritesBuffered(t *testing.T) {
	store := newFakeEventStore()
	a := newTestAppender(t, store, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := a.Append(ctx, testEvent(fmt.Sprintf("evt_%d", i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if store.insertedCount() != 5 {
		t.Errorf("Expected 5 inserted, got %d", store.insertedCount())
	}

	stats := a.Stats()
	if stats.EventsReceived != 5 || stats.EventsFlushed != 5 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.BufferSize != 0 {
		t.Errorf("Expected empty buffer, got %d", stats.BufferSize)
	}
}

func TestAppender_BatchSizeTriggersFlush(t *testing.T) {
	store := newFakeEventStore()
	a := newTestAppender(t, store, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := a.Append(ctx, testEvent(fmt.Sprintf("evt_%d", i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// The async flush drains the buffer without an explicit Flush call.
	deadline := time.Now().Add(2 * time.Second)
	for store.insertedCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.insertedCount() != 3 {
		t.Errorf("Expected async flush of 3 events, got %d", store.insertedCount())
	}
}

func TestAppender_TransportFailureRestoresEvents(t *testing.T) {
	store := newFakeEventStore()
	store.failNext = 1
	a := newTestAppender(t, store, 100)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = a.Append(ctx, testEvent(fmt.Sprintf("evt_%d", i)))
	}

	err := a.Flush(ctx)
	if err == nil {
		t.Fatal("Expected transport failure")
	}
	if !IsRetryableError(err) {
		t.Errorf("Expected retryable error, got %v", err)
	}

	stats := a.Stats()
	if stats.BufferSize != 4 {
		t.Errorf("Expected 4 events restored to buffer, got %d", stats.BufferSize)
	}
	if stats.ErrorCount != 1 {
		t.Errorf("Expected 1 error, got %d", stats.ErrorCount)
	}

	// A later flush succeeds with all events intact.
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Retry flush failed: %v", err)
	}
	if store.insertedCount() != 4 {
		t.Errorf("Expected 4 inserted after retry, got %d", store.insertedCount())
	}
}

func TestAppender_RejectedRowsAreIndependent(t *testing.T) {
	store := newFakeEventStore()
	store.rejectKeys["evt_bad"] = "params malformed"
	a := newTestAppender(t, store, 100)
	ctx := context.Background()

	_ = a.Append(ctx, testEvent("evt_0"))
	_ = a.Append(ctx, testEvent("evt_bad"))
	_ = a.Append(ctx, testEvent("evt_2"))

	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// The valid rows land despite the rejection; the rejected row is
	// counted but never resubmitted.
	if store.insertedCount() != 2 {
		t.Errorf("Expected 2 inserted, got %d", store.insertedCount())
	}
	stats := a.Stats()
	if stats.EventsRejected != 1 {
		t.Errorf("Expected 1 rejected, got %d", stats.EventsRejected)
	}
	if stats.BufferSize != 0 {
		t.Errorf("Expected rejected row not restored, buffer %d", stats.BufferSize)
	}

	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Second flush failed: %v", err)
	}
	store.mu.Lock()
	batchCount := len(store.batches)
	store.mu.Unlock()
	if batchCount != 1 {
		t.Errorf("Expected no resubmission, got %d batches", batchCount)
	}
}

func TestAppender_DuplicatesCountAsFlushed(t *testing.T) {
	store := newFakeEventStore()
	a := newTestAppender(t, store, 100)
	ctx := context.Background()

	_ = a.Append(ctx, testEvent("evt_0"))
	_ = a.Append(ctx, testEvent("evt_0")) // redelivery
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if store.insertedCount() != 1 {
		t.Errorf("Expected single row for duplicate ids, got %d", store.insertedCount())
	}
	if stats := a.Stats(); stats.EventsFlushed != 2 {
		t.Errorf("Expected both events accounted as flushed, got %d", stats.EventsFlushed)
	}
}

func TestAppender_ChunkedFlush(t *testing.T) {
	store := newFakeEventStore()
	a := newTestAppender(t, store, 2)
	ctx := context.Background()

	// Fill the buffer directly to avoid async flushes racing the test.
	a.mu.Lock()
	for i := 0; i < 5; i++ {
		a.buffer = append(a.buffer, testEvent(fmt.Sprintf("evt_%d", i)))
	}
	a.mu.Unlock()

	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(store.batches))
	}
	if len(store.batches[0]) != 2 || len(store.batches[1]) != 2 || len(store.batches[2]) != 1 {
		t.Errorf("Unexpected chunk sizes: %d/%d/%d", len(store.batches[0]), len(store.batches[1]), len(store.batches[2]))
	}
}

func TestAppender_CloseFlushesAndRejectsFurtherAppends(t *testing.T) {
	store := newFakeEventStore()
	a := newTestAppender(t, store, 100)
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_ = a.Append(ctx, testEvent("evt_0"))

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if store.insertedCount() != 1 {
		t.Errorf("Expected pending event flushed on close, got %d", store.insertedCount())
	}

	if err := a.Append(ctx, testEvent("evt_1")); err == nil {
		t.Error("Expected append after close to fail")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
}
