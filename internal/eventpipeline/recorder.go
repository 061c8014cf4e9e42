// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"context"
	"fmt"
	"time"
)

// Recorder is the producer-side API for emitting note events. It fills
// in event IDs and timestamps so callers only describe what happened.
type Recorder struct {
	publisher  *Publisher
	now        func() time.Time
	generateID func() string
}

// NewRecorder creates a recorder on top of a publisher.
func NewRecorder(publisher *Publisher) (*Recorder, error) {
	if publisher == nil {
		return nil, ErrNilPublisher
	}
	return &Recorder{
		publisher:  publisher,
		now:        time.Now,
		generateID: GenerateEventID,
	}, nil
}

// Record publishes an event, assigning an event ID and timestamp when
// the caller left them empty.
func (r *Recorder) Record(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.EventID == "" {
		event.EventID = r.generateID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	return r.publisher.PublishEvent(ctx, event)
}

// NoteInfo carries the note attributes attached to lifecycle events.
type NoteInfo struct {
	NoteID   string
	Title    string
	Category string
	Tags     []string
}

// params renders the note attributes in a stable order, skipping empty
// fields.
func (n NoteInfo) params() []Param {
	params := make([]Param, 0, 4)
	if n.NoteID != "" {
		params = append(params, StringParam("note_id", n.NoteID))
	}
	if n.Title != "" {
		params = append(params, StringParam("title", n.Title))
	}
	if n.Category != "" {
		params = append(params, StringParam("category", n.Category))
	}
	if len(n.Tags) > 0 {
		tags := make([]any, len(n.Tags))
		for i, tag := range n.Tags {
			tags[i] = tag
		}
		if serialized, err := canonicalJSON(tags); err == nil {
			params = append(params, JSONParam("tags", serialized))
		}
	}
	return params
}

// NoteCreated records a note creation.
func (r *Recorder) NoteCreated(ctx context.Context, subjectID string, note NoteInfo) error {
	return r.Record(ctx, r.noteEvent(EventNoteCreated, subjectID, note.params()))
}

// NoteUpdated records a note update.
func (r *Recorder) NoteUpdated(ctx context.Context, subjectID string, note NoteInfo) error {
	return r.Record(ctx, r.noteEvent(EventNoteUpdated, subjectID, note.params()))
}

// NoteDeleted records a note deletion.
func (r *Recorder) NoteDeleted(ctx context.Context, subjectID, noteID string) error {
	return r.Record(ctx, r.noteEvent(EventNoteDeleted, subjectID, []Param{
		StringParam("note_id", noteID),
	}))
}

// NoteViewed records a note view.
func (r *Recorder) NoteViewed(ctx context.Context, subjectID, noteID string) error {
	return r.Record(ctx, r.noteEvent(EventNoteViewed, subjectID, []Param{
		StringParam("note_id", noteID),
	}))
}

// NoteFavorited records a favorite, with the resulting count.
func (r *Recorder) NoteFavorited(ctx context.Context, subjectID, noteID string, favoriteCount int64) error {
	return r.Record(ctx, r.noteEvent(EventNoteFavorited, subjectID, []Param{
		StringParam("note_id", noteID),
		IntParam("favoriteCount", favoriteCount),
	}))
}

// NoteUnfavorited records a favorite removal, with the resulting count.
func (r *Recorder) NoteUnfavorited(ctx context.Context, subjectID, noteID string, favoriteCount int64) error {
	return r.Record(ctx, r.noteEvent(EventNoteUnfavorited, subjectID, []Param{
		StringParam("note_id", noteID),
		IntParam("favoriteCount", favoriteCount),
	}))
}

func (r *Recorder) noteEvent(name, subjectID string, params []Param) *Event {
	event := &Event{
		EventID:   r.generateID(),
		EventName: name,
		Timestamp: r.now().UTC(),
		Params:    params,
	}
	if subjectID != "" {
		event.SubjectID = &subjectID
	}
	return event
}
