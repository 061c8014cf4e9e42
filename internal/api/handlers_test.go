// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jtciou26/notestream/internal/database"
	"github.com/jtciou26/notestream/internal/eventpipeline"
)

// =============================================================================
// Fakes
// =============================================================================

type fakePublisher struct {
	published []*eventpipeline.Event
	err       error
}

func (f *fakePublisher) PublishEvent(_ context.Context, event *eventpipeline.Event) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, event)
	return nil
}

type fakeStore struct {
	nameCounts []database.NameCount
	dayCounts  []database.DayCount
	subjects   []database.SubjectActivity
	recent     []database.RecentEvent
	total      int64
	pingErr    error
	queryErr   error

	lastRange database.TimeRange
	lastLimit int
}

func (f *fakeStore) CountEvents(context.Context) (int64, error) {
	return f.total, f.queryErr
}

func (f *fakeStore) EventCountsByName(_ context.Context, tr database.TimeRange) ([]database.NameCount, error) {
	f.lastRange = tr
	return f.nameCounts, f.queryErr
}

func (f *fakeStore) EventVolumeByDay(_ context.Context, tr database.TimeRange) ([]database.DayCount, error) {
	f.lastRange = tr
	return f.dayCounts, f.queryErr
}

func (f *fakeStore) DeviceBreakdown(_ context.Context, tr database.TimeRange) ([]database.NameCount, error) {
	f.lastRange = tr
	return f.nameCounts, f.queryErr
}

func (f *fakeStore) BrowserBreakdown(_ context.Context, tr database.TimeRange) ([]database.NameCount, error) {
	f.lastRange = tr
	return f.nameCounts, f.queryErr
}

func (f *fakeStore) CountryBreakdown(_ context.Context, tr database.TimeRange) ([]database.NameCount, error) {
	f.lastRange = tr
	return f.nameCounts, f.queryErr
}

func (f *fakeStore) TopSubjects(_ context.Context, tr database.TimeRange, limit int) ([]database.SubjectActivity, error) {
	f.lastRange = tr
	f.lastLimit = limit
	return f.subjects, f.queryErr
}

func (f *fakeStore) RecentEvents(_ context.Context, limit int) ([]database.RecentEvent, error) {
	f.lastLimit = limit
	return f.recent, f.queryErr
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

type fakeDLQ struct {
	entries map[string]*eventpipeline.DLQEntry
	order   []string
	err     error

	updated *eventpipeline.DLQEntry
	deleted []string
}

func newFakeDLQ(entries ...*eventpipeline.DLQEntry) *fakeDLQ {
	f := &fakeDLQ{entries: make(map[string]*eventpipeline.DLQEntry)}
	for _, e := range entries {
		f.entries[e.EventID] = e
		f.order = append(f.order, e.EventID)
	}
	return f
}

func (f *fakeDLQ) ListFailedEvents(context.Context) ([]*eventpipeline.DLQEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*eventpipeline.DLQEntry, 0, len(f.order))
	for _, id := range f.order {
		if e, ok := f.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeDLQ) GetFailedEvent(_ context.Context, eventID string) (*eventpipeline.DLQEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[eventID], nil
}

func (f *fakeDLQ) UpdateFailedEvent(_ context.Context, entry *eventpipeline.DLQEntry) error {
	if f.err != nil {
		return f.err
	}
	f.updated = entry
	f.entries[entry.EventID] = entry
	return nil
}

func (f *fakeDLQ) DeleteFailedEvent(_ context.Context, eventID string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.entries, eventID)
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeDLQ) CountFailedEvents(context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(f.entries)), nil
}

// =============================================================================
// Helpers
// =============================================================================

type testDeps struct {
	handler   *Handler
	server    http.Handler
	publisher *fakePublisher
	store     *fakeStore
	dlq       *fakeDLQ
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()

	publisher := &fakePublisher{}
	store := &fakeStore{}
	dlq := newFakeDLQ()

	handler := NewHandler(DefaultHandlerConfig(), store, dlq, publisher, nil)
	router := NewRouter(handler, NewMiddleware(&MiddlewareConfig{RateLimitDisabled: true}))

	return &testDeps{
		handler:   handler,
		server:    router.Setup(),
		publisher: publisher,
		store:     store,
		dlq:       dlq,
	}
}

func (d *testDeps) request(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "203.0.113.7:52100"

	rec := httptest.NewRecorder()
	d.server.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) *APIResponse {
	t.Helper()

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v\nbody: %s", err, rec.Body.String())
	}
	return &resp
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, status, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Status != "error" {
		t.Errorf("envelope status = %q, want error", resp.Status)
	}
	if resp.Error == nil || resp.Error.Code != code {
		t.Errorf("error code = %+v, want %s", resp.Error, code)
	}
}

func dlqTestEntry(eventID string, retryCount int) *eventpipeline.DLQEntry {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return &eventpipeline.DLQEntry{
		EventID:       eventID,
		MessageID:     "msg-" + eventID,
		Payload:       []byte(`{"broken":`),
		OriginalError: "insert failed: connection refused",
		LastError:     "insert failed: connection refused",
		RetryCount:    retryCount,
		FirstFailure:  base,
		LastFailure:   base.Add(10 * time.Minute),
		NextRetry:     base.Add(20 * time.Minute),
		Category:      eventpipeline.CategoryConnection,
	}
}
