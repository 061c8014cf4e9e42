// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package database

import (
	"context"
	"testing"
	"time"

	"github.com/jtciou26/notestream/internal/eventpipeline"
)

// storedTestEvent builds a valid event for insert tests.
func storedTestEvent(id string) *eventpipeline.Event {
	subject := "u1"
	return &eventpipeline.Event{
		EventID:   id,
		EventName: "note_created",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SubjectID: &subject,
		Params: []eventpipeline.Param{
			eventpipeline.StringParam("note_id", "n1"),
			eventpipeline.IntParam("favoriteCount", 3),
		},
	}
}

func TestInsertEventsBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	events := []*eventpipeline.Event{
		storedTestEvent("evt_1"),
		storedTestEvent("evt_2"),
		storedTestEvent("evt_3"),
	}

	result, err := db.InsertEventsBatch(ctx, events)
	if err != nil {
		t.Fatalf("InsertEventsBatch failed: %v", err)
	}
	if result.Inserted != 3 {
		t.Errorf("Expected 3 inserted, got %d", result.Inserted)
	}
	if result.Duplicates != 0 {
		t.Errorf("Expected 0 duplicates, got %d", result.Duplicates)
	}
	if !result.Accepted() {
		t.Errorf("Expected accepted result, got rejections: %v", result.Rejected)
	}

	count, err := db.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 stored events, got %d", count)
	}
}

func TestInsertEventsBatchEmpty(t *testing.T) {
	db := setupTestDB(t)

	result, err := db.InsertEventsBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("InsertEventsBatch with empty batch failed: %v", err)
	}
	if result.Inserted != 0 || result.Duplicates != 0 || len(result.Rejected) != 0 {
		t.Errorf("Expected zero result for empty batch, got %+v", result)
	}
}

func TestInsertEventsBatchDuplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := []*eventpipeline.Event{storedTestEvent("evt_dup")}
	if _, err := db.InsertEventsBatch(ctx, first); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	// Redelivery of the same event plus one new event
	second := []*eventpipeline.Event{
		storedTestEvent("evt_dup"),
		storedTestEvent("evt_new"),
	}
	result, err := db.InsertEventsBatch(ctx, second)
	if err != nil {
		t.Fatalf("Second insert failed: %v", err)
	}
	if result.Inserted != 1 {
		t.Errorf("Expected 1 inserted, got %d", result.Inserted)
	}
	if result.Duplicates != 1 {
		t.Errorf("Expected 1 duplicate, got %d", result.Duplicates)
	}

	count, err := db.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 stored events after redelivery, got %d", count)
	}
}

func TestInsertEventsBatchRejectsInvalidRows(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	missingName := storedTestEvent("evt_bad")
	missingName.EventName = ""

	events := []*eventpipeline.Event{
		storedTestEvent("evt_ok_1"),
		missingName,
		nil,
		storedTestEvent("evt_ok_2"),
	}

	result, err := db.InsertEventsBatch(ctx, events)
	if err != nil {
		t.Fatalf("InsertEventsBatch failed: %v", err)
	}
	if result.Inserted != 2 {
		t.Errorf("Expected 2 inserted, got %d", result.Inserted)
	}
	if len(result.Rejected) != 2 {
		t.Fatalf("Expected 2 rejected rows, got %d", len(result.Rejected))
	}
	if result.Rejected[0].RowIndex != 1 {
		t.Errorf("Expected first rejection at index 1, got %d", result.Rejected[0].RowIndex)
	}
	if result.Rejected[1].RowIndex != 2 {
		t.Errorf("Expected second rejection at index 2, got %d", result.Rejected[1].RowIndex)
	}

	// Valid rows around rejections are still written
	count, err := db.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 stored events, got %d", count)
	}
}

func TestGetEventByID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	device := "desktop"
	osName := "Windows"
	browser := "Chrome"
	country := "US"
	ip := "203.0.113.7"
	subject := "author-1"

	original := &eventpipeline.Event{
		EventID:   "evt_roundtrip",
		EventName: "note_favorited",
		Timestamp: time.Date(2026, 2, 14, 8, 30, 0, 0, time.UTC),
		SubjectID: &subject,
		Params: []eventpipeline.Param{
			eventpipeline.StringParam("note_id", "n42"),
			eventpipeline.IntParam("favoriteCount", 7),
			// Duplicate key on purpose, order and multiplicity matter
			eventpipeline.StringParam("note_id", "n42-again"),
			eventpipeline.JSONParam("tags", `["a","b"]`),
		},
		UserContext: &eventpipeline.UserContext{
			DeviceCategory:  &device,
			OperatingSystem: &osName,
			Browser:         &browser,
			Country:         &country,
			IPAddress:       &ip,
		},
	}

	if _, err := db.InsertEventsBatch(ctx, []*eventpipeline.Event{original}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := db.GetEventByID(ctx, "evt_roundtrip")
	if err != nil {
		t.Fatalf("GetEventByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected event, got nil")
	}

	if got.EventID != original.EventID {
		t.Errorf("EventID = %q, want %q", got.EventID, original.EventID)
	}
	if got.EventName != original.EventName {
		t.Errorf("EventName = %q, want %q", got.EventName, original.EventName)
	}
	if !got.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, original.Timestamp)
	}
	if got.SubjectID == nil || *got.SubjectID != subject {
		t.Errorf("SubjectID = %v, want %q", got.SubjectID, subject)
	}

	if len(got.Params) != len(original.Params) {
		t.Fatalf("Expected %d params, got %d", len(original.Params), len(got.Params))
	}
	for i, p := range got.Params {
		if p.Key != original.Params[i].Key {
			t.Errorf("Param %d key = %q, want %q", i, p.Key, original.Params[i].Key)
		}
		if p.Kind() != original.Params[i].Kind() {
			t.Errorf("Param %d kind = %v, want %v", i, p.Kind(), original.Params[i].Kind())
		}
	}

	if got.UserContext == nil {
		t.Fatal("Expected user context, got nil")
	}
	if got.UserContext.Browser == nil || *got.UserContext.Browser != browser {
		t.Errorf("Browser = %v, want %q", got.UserContext.Browser, browser)
	}
	if got.UserContext.Country == nil || *got.UserContext.Country != country {
		t.Errorf("Country = %v, want %q", got.UserContext.Country, country)
	}
}

func TestGetEventByIDNotFound(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetEventByID(context.Background(), "evt_missing")
	if err != nil {
		t.Fatalf("GetEventByID failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing event, got %+v", got)
	}
}

func TestGetEventByIDNoContext(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	event := storedTestEvent("evt_no_ctx")
	event.SubjectID = nil
	event.UserContext = nil

	if _, err := db.InsertEventsBatch(ctx, []*eventpipeline.Event{event}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := db.GetEventByID(ctx, "evt_no_ctx")
	if err != nil {
		t.Fatalf("GetEventByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected event, got nil")
	}
	if got.SubjectID != nil {
		t.Errorf("Expected nil subject, got %q", *got.SubjectID)
	}
	if got.UserContext != nil {
		t.Errorf("Expected nil user context, got %+v", got.UserContext)
	}
}
