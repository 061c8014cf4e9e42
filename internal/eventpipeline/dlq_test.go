// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// memoryFailedEventStore is an in-memory FailedEventStore for tests. It
// mirrors the database store's upsert semantics: re-saving an existing
// entry refreshes the last failure while keeping the original error,
// first failure time and retry bookkeeping.
type memoryFailedEventStore struct {
	mu       sync.Mutex
	entries  map[string]*DLQEntry
	resolved map[string]bool
	saveErr  error
}

func newMemoryFailedEventStore() *memoryFailedEventStore {
	return &memoryFailedEventStore{
		entries:  make(map[string]*DLQEntry),
		resolved: make(map[string]bool),
	}
}

func (s *memoryFailedEventStore) SaveFailedEvent(ctx context.Context, entry *DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	copied := *entry
	if existing, ok := s.entries[entry.EventID]; ok {
		copied.OriginalError = existing.OriginalError
		copied.FirstFailure = existing.FirstFailure
		copied.RetryCount = existing.RetryCount
		copied.NextRetry = existing.NextRetry
	}
	s.entries[entry.EventID] = &copied
	return nil
}

// markResolved records that an event with this id reached the event
// store, standing in for a row in the events table.
func (s *memoryFailedEventStore) markResolved(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved[eventID] = true
}

func (s *memoryFailedEventStore) GetFailedEvent(ctx context.Context, eventID string) (*DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventID]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (s *memoryFailedEventStore) UpdateFailedEvent(ctx context.Context, entry *DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.EventID]; !ok {
		return errors.New("entry not found")
	}
	copied := *entry
	s.entries[entry.EventID] = &copied
	return nil
}

func (s *memoryFailedEventStore) DeleteFailedEvent(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, eventID)
	return nil
}

func (s *memoryFailedEventStore) ListFailedEvents(ctx context.Context) ([]*DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*DLQEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		copied := *entry
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memoryFailedEventStore) PendingFailedEvents(ctx context.Context, before time.Time, maxRetries int) ([]*DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*DLQEntry
	for _, entry := range s.entries {
		if entry.RetryCount < maxRetries && !entry.NextRetry.After(before) && entry.Category.Retryable() {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memoryFailedEventStore) DeleteResolvedFailedEvents(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id := range s.entries {
		if s.resolved[id] {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryFailedEventStore) DeleteExpiredFailedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, entry := range s.entries {
		if entry.FirstFailure.Before(olderThan) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryFailedEventStore) CountFailedEvents(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func poisonedMessage(uuid string, payload []byte, reason string) *message.Message {
	msg := message.NewMessage(uuid, payload)
	msg.Metadata.Set(middleware.ReasonForPoisonedKey, reason)
	return msg
}

func TestNewDLQEntry(t *testing.T) {
	t.Run("recovers event id from payload", func(t *testing.T) {
		data, err := SerializeEvent(testEvent("evt_known"))
		if err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}
		entry := NewDLQEntry(poisonedMessage("uuid-1", data, "append failed: connection refused"), "append failed: connection refused")
		if entry.EventID != "evt_known" {
			t.Errorf("Expected evt_known, got %s", entry.EventID)
		}
		if entry.Category != CategoryConnection {
			t.Errorf("Expected connection category, got %s", entry.Category)
		}
	})

	t.Run("derives id for undecodable payload", func(t *testing.T) {
		entry := NewDLQEntry(poisonedMessage("uuid-2", []byte("garbage"), "payload decode failed"), "payload decode failed")
		if entry.EventID != DeriveEventID("uuid-2") {
			t.Errorf("Expected derived id, got %s", entry.EventID)
		}
		if entry.Category != CategoryValidation {
			t.Errorf("Expected validation category, got %s", entry.Category)
		}
		if string(entry.Payload) != "garbage" {
			t.Error("Expected raw payload preserved")
		}
	})
}

func TestDLQHandler_Handle(t *testing.T) {
	store := newMemoryFailedEventStore()
	h, err := NewDLQHandler(store, DefaultDLQConfig(), nil)
	if err != nil {
		t.Fatalf("NewDLQHandler failed: %v", err)
	}

	msg := poisonedMessage("uuid-3", []byte("bad payload"), "payload decode failed: parse error")
	if err := h.Handle(msg); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	entry, err := store.GetFailedEvent(context.Background(), DeriveEventID("uuid-3"))
	if err != nil || entry == nil {
		t.Fatalf("Expected persisted entry, got %v / %v", entry, err)
	}
	if entry.OriginalError != "payload decode failed: parse error" {
		t.Errorf("Unexpected reason: %s", entry.OriginalError)
	}
	if !entry.NextRetry.After(entry.FirstFailure) {
		t.Error("Expected initial backoff before first retry")
	}
	if h.Stats().EntriesRecorded != 1 {
		t.Errorf("Expected 1 entry recorded, got %d", h.Stats().EntriesRecorded)
	}
}

func TestDLQHandler_SaveFailureIsRetryable(t *testing.T) {
	store := newMemoryFailedEventStore()
	store.saveErr = errors.New("duckdb: out of disk")
	h, err := NewDLQHandler(store, DefaultDLQConfig(), nil)
	if err != nil {
		t.Fatalf("NewDLQHandler failed: %v", err)
	}

	handleErr := h.Handle(poisonedMessage("uuid-4", []byte("x"), "whatever"))
	if handleErr == nil {
		t.Fatal("Expected error")
	}
	if !IsRetryableError(handleErr) {
		t.Errorf("Expected retryable error so the poison message redelivers, got %v", handleErr)
	}
}

func TestRetryPolicy(t *testing.T) {
	policy := NewRetryPolicy(DLQConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	})

	t.Run("exponential growth within jitter bounds", func(t *testing.T) {
		for retry, base := range map[int]time.Duration{
			0: time.Second,
			1: 2 * time.Second,
			2: 4 * time.Second,
		} {
			got := policy.CalculateBackoff(retry)
			min := time.Duration(float64(base) * 0.9)
			max := time.Duration(float64(base) * 1.1)
			if got < min || got > max {
				t.Errorf("Retry %d: backoff %v outside [%v, %v]", retry, got, min, max)
			}
		}
	})

	t.Run("capped at max backoff", func(t *testing.T) {
		got := policy.CalculateBackoff(10)
		if got > time.Duration(float64(10*time.Second)*1.1) {
			t.Errorf("Expected cap near 10s, got %v", got)
		}
	})

	t.Run("should retry", func(t *testing.T) {
		retryable := NewRetryableError("flush", errors.New("timeout"))
		permanent := NewPermanentError("validation", nil)

		if !policy.ShouldRetry(retryable, 0) {
			t.Error("Expected retry for transient error")
		}
		if policy.ShouldRetry(retryable, 3) {
			t.Error("Expected no retry past max")
		}
		if policy.ShouldRetry(permanent, 0) {
			t.Error("Expected no retry for permanent error")
		}
	})
}

func TestAutoRetryWorker_RetryEntry(t *testing.T) {
	newWorker := func(t *testing.T, store FailedEventStore, capture *capturePublisher) *AutoRetryWorker {
		t.Helper()
		dlq, err := NewDLQHandler(store, DefaultDLQConfig(), nil)
		if err != nil {
			t.Fatalf("NewDLQHandler failed: %v", err)
		}
		w, err := NewAutoRetryWorker(store, newTestPublisher(capture), dlq, DefaultAutoRetryConfig(), nil)
		if err != nil {
			t.Fatalf("NewAutoRetryWorker failed: %v", err)
		}
		return w
	}

	t.Run("success advances bookkeeping and keeps entry", func(t *testing.T) {
		store := newMemoryFailedEventStore()
		capture := newCapturePublisher()
		w := newWorker(t, store, capture)

		entry := &DLQEntry{
			EventID:      "evt_1",
			MessageID:    "uuid-1",
			Payload:      []byte(`{"event": "e"}`),
			FirstFailure: time.Now(),
		}
		if err := store.SaveFailedEvent(context.Background(), entry); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		w.retryEntry(context.Background(), entry)

		msgs := capture.published(TopicNoteEvents)
		if len(msgs) != 1 {
			t.Fatalf("Expected 1 republish, got %d", len(msgs))
		}
		if msgs[0].UUID != "uuid-1" {
			t.Errorf("Expected original message UUID preserved, got %s", msgs[0].UUID)
		}

		// A republish proves nothing about normalization; the entry stays
		// until the event lands in the store, counting the attempt.
		updated, _ := store.GetFailedEvent(context.Background(), "evt_1")
		if updated == nil {
			t.Fatal("Expected entry kept after republish")
		}
		if updated.RetryCount != 1 {
			t.Errorf("Expected retry count 1 after republish, got %d", updated.RetryCount)
		}
		if !updated.NextRetry.After(time.Now()) {
			t.Error("Expected next retry backed off into the future")
		}
	})

	t.Run("failure advances bookkeeping", func(t *testing.T) {
		store := newMemoryFailedEventStore()
		capture := newCapturePublisher()
		capture.failNext = true
		w := newWorker(t, store, capture)

		entry := &DLQEntry{
			EventID:      "evt_2",
			MessageID:    "uuid-2",
			Payload:      []byte(`{}`),
			FirstFailure: time.Now(),
		}
		if err := store.SaveFailedEvent(context.Background(), entry); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		w.retryEntry(context.Background(), entry)

		updated, _ := store.GetFailedEvent(context.Background(), "evt_2")
		if updated == nil {
			t.Fatal("Expected entry kept after failed retry")
		}
		if updated.RetryCount != 1 {
			t.Errorf("Expected retry count 1, got %d", updated.RetryCount)
		}
		if updated.LastError == "" {
			t.Error("Expected last error recorded")
		}
		if !updated.NextRetry.After(time.Now()) {
			t.Error("Expected next retry scheduled in the future")
		}
	})
}

func TestAutoRetryWorker_ProcessPending(t *testing.T) {
	store := newMemoryFailedEventStore()
	capture := newCapturePublisher()
	dlq, err := NewDLQHandler(store, DefaultDLQConfig(), nil)
	if err != nil {
		t.Fatalf("NewDLQHandler failed: %v", err)
	}
	w, err := NewAutoRetryWorker(store, newTestPublisher(capture), dlq, DefaultAutoRetryConfig(), nil)
	if err != nil {
		t.Fatalf("NewAutoRetryWorker failed: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	// One entry due, one backed off into the future, one exhausted, one
	// permanently undecodable, one whose event already landed.
	_ = store.SaveFailedEvent(ctx, &DLQEntry{EventID: "due", MessageID: "m1", Payload: []byte(`{}`), NextRetry: now.Add(-time.Second), FirstFailure: now})
	_ = store.SaveFailedEvent(ctx, &DLQEntry{EventID: "later", MessageID: "m2", Payload: []byte(`{}`), NextRetry: now.Add(time.Hour), FirstFailure: now})
	_ = store.SaveFailedEvent(ctx, &DLQEntry{EventID: "spent", MessageID: "m3", Payload: []byte(`{}`), NextRetry: now.Add(-time.Second), RetryCount: 5, FirstFailure: now})
	_ = store.SaveFailedEvent(ctx, &DLQEntry{EventID: "poisoned", MessageID: "m4", Payload: []byte("garbage"), NextRetry: now.Add(-time.Second), FirstFailure: now, Category: CategoryValidation})
	_ = store.SaveFailedEvent(ctx, &DLQEntry{EventID: "landed", MessageID: "m5", Payload: []byte(`{}`), NextRetry: now.Add(-time.Second), FirstFailure: now})
	store.markResolved("landed")

	w.processPending(ctx)

	msgs := capture.published(TopicNoteEvents)
	if len(msgs) != 1 {
		t.Fatalf("Expected only the due entry republished, got %d", len(msgs))
	}
	if msgs[0].UUID != "m1" {
		t.Errorf("Expected m1 republished, got %s", msgs[0].UUID)
	}

	if entry, _ := store.GetFailedEvent(ctx, "landed"); entry != nil {
		t.Error("Expected resolved entry settled before the sweep")
	}
	if entry, _ := store.GetFailedEvent(ctx, "poisoned"); entry == nil {
		t.Error("Expected validation entry kept for manual intervention")
	}
}

// A message that keeps failing permanently after each republish must
// accumulate attempts across Handle/republish cycles until it exhausts
// MaxRetries, instead of restarting from zero every time.
func TestAutoRetryWorker_RetryCountSurvivesRepublishCycle(t *testing.T) {
	store := newMemoryFailedEventStore()
	capture := newCapturePublisher()
	cfg := DefaultDLQConfig()
	cfg.MaxRetries = 3
	dlq, err := NewDLQHandler(store, cfg, nil)
	if err != nil {
		t.Fatalf("NewDLQHandler failed: %v", err)
	}
	w, err := NewAutoRetryWorker(store, newTestPublisher(capture), dlq, DefaultAutoRetryConfig(), nil)
	if err != nil {
		t.Fatalf("NewAutoRetryWorker failed: %v", err)
	}

	ctx := context.Background()
	msg := poisonedMessage("uuid-cycle", []byte(`{}`), "append failed: connection refused")
	eventID := DeriveEventID("uuid-cycle")

	for cycle := 1; cycle <= cfg.MaxRetries; cycle++ {
		// The message dead-letters (again), then the worker republishes.
		if err := dlq.Handle(msg); err != nil {
			t.Fatalf("Cycle %d: Handle failed: %v", cycle, err)
		}
		entry, _ := store.GetFailedEvent(ctx, eventID)
		if entry == nil {
			t.Fatalf("Cycle %d: entry missing", cycle)
		}
		if entry.RetryCount != cycle-1 {
			t.Fatalf("Cycle %d: expected retry count %d carried over, got %d", cycle, cycle-1, entry.RetryCount)
		}
		w.retryEntry(ctx, entry)
	}

	final, _ := store.GetFailedEvent(ctx, eventID)
	if final == nil {
		t.Fatal("Expected entry kept after exhausting retries")
	}
	if final.RetryCount != cfg.MaxRetries {
		t.Errorf("Expected retry count %d, got %d", cfg.MaxRetries, final.RetryCount)
	}

	// Exhausted entries drop out of the pending scan.
	pending, _ := store.PendingFailedEvents(ctx, time.Now().Add(time.Hour), cfg.MaxRetries)
	for _, entry := range pending {
		if entry.EventID == eventID {
			t.Error("Expected exhausted entry excluded from pending retries")
		}
	}
}
