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

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// capturePublisher implements message.Publisher and records published
// messages per topic.
type capturePublisher struct {
	mu       sync.Mutex
	messages map[string][]*message.Message
	failNext bool
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{messages: make(map[string][]*message.Message)}
}

func (p *capturePublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return errors.New("connection refused")
	}
	p.messages[topic] = append(p.messages[topic], messages...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages[topic]...)
}

func newTestPublisher(capture *capturePublisher) *Publisher {
	return &Publisher{
		publisher: capture,
		logger:    watermill.NewStdLogger(false, false),
	}
}

func newTestRecorder(t *testing.T, capture *capturePublisher) *Recorder {
	t.Helper()
	r, err := NewRecorder(newTestPublisher(capture))
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	return r
}

func TestRecorder_Record(t *testing.T) {
	capture := newCapturePublisher()
	r := newTestRecorder(t, capture)

	t.Run("fills id and timestamp", func(t *testing.T) {
		event := &Event{
			EventName: EventNoteCreated,
			Params:    []Param{StringParam("note_id", "n1")},
		}
		if err := r.Record(context.Background(), event); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if event.EventID == "" {
			t.Error("Expected event id assigned")
		}
		if event.Timestamp.IsZero() {
			t.Error("Expected timestamp assigned")
		}

		msgs := capture.published(TopicNoteEvents)
		if len(msgs) != 1 {
			t.Fatalf("Expected 1 published message, got %d", len(msgs))
		}
		if msgs[0].UUID != event.EventID {
			t.Errorf("Expected message UUID to be the event id, got %s", msgs[0].UUID)
		}
	})

	t.Run("keeps caller-supplied identity", func(t *testing.T) {
		at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		event := &Event{
			EventID:   "evt_caller",
			EventName: EventNoteDeleted,
			Timestamp: at,
			Params:    []Param{StringParam("note_id", "n1")},
		}
		if err := r.Record(context.Background(), event); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if event.EventID != "evt_caller" || !event.Timestamp.Equal(at) {
			t.Error("Expected caller identity preserved")
		}
	})

	t.Run("nil event rejected", func(t *testing.T) {
		if err := r.Record(context.Background(), nil); err == nil {
			t.Error("Expected error for nil event")
		}
	})
}

func TestRecorder_NoteHelpers(t *testing.T) {
	capture := newCapturePublisher()
	r := newTestRecorder(t, capture)
	ctx := context.Background()

	note := NoteInfo{NoteID: "n42", Title: "Groceries", Category: "home", Tags: []string{"list", "food"}}
	if err := r.NoteCreated(ctx, "u1", note); err != nil {
		t.Fatalf("NoteCreated failed: %v", err)
	}
	if err := r.NoteFavorited(ctx, "u2", "n42", 3); err != nil {
		t.Fatalf("NoteFavorited failed: %v", err)
	}

	msgs := capture.published(TopicNoteEvents)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}

	created, err := DeserializeEvent(msgs[0].Payload)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if created.EventName != EventNoteCreated {
		t.Errorf("Expected %s, got %s", EventNoteCreated, created.EventName)
	}
	if created.SubjectID == nil || *created.SubjectID != "u1" {
		t.Error("Expected subject u1")
	}
	wantKeys := []string{"note_id", "title", "category", "tags"}
	if len(created.Params) != len(wantKeys) {
		t.Fatalf("Expected %d params, got %d", len(wantKeys), len(created.Params))
	}
	for i, key := range wantKeys {
		if created.Params[i].Key != key {
			t.Errorf("Param %d: expected %s, got %s", i, key, created.Params[i].Key)
		}
	}
	if *created.Params[3].JSONValue != `["list","food"]` {
		t.Errorf("Unexpected tags: %s", *created.Params[3].JSONValue)
	}

	favorited, err := DeserializeEvent(msgs[1].Payload)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if favorited.EventName != EventNoteFavorited {
		t.Errorf("Expected %s, got %s", EventNoteFavorited, favorited.EventName)
	}
	if favorited.Params[1].Key != "favoriteCount" || *favorited.Params[1].IntValue != 3 {
		t.Errorf("Unexpected favorite count param: %+v", favorited.Params[1])
	}
}

func TestRecorder_PublishFailurePropagates(t *testing.T) {
	capture := newCapturePublisher()
	capture.failNext = true
	r := newTestRecorder(t, capture)

	err := r.NoteViewed(context.Background(), "u1", "n1")
	if err == nil {
		t.Error("Expected publish failure to propagate")
	}
}
