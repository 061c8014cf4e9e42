// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"fmt"
	"time"
)

// Well-known event names emitted by the note service producers.
const (
	EventNoteCreated     = "note_created"
	EventNoteUpdated     = "note_updated"
	EventNoteDeleted     = "note_deleted"
	EventNoteViewed      = "note_viewed"
	EventNoteFavorited   = "note_favorited"
	EventNoteUnfavorited = "note_unfavorited"
)

// DefaultEventName is the label applied to legacy flat documents, which
// predate explicit event naming.
const DefaultEventName = "note_action"

// UserAction returns the event name for a generic user-level action,
// e.g. UserAction("signup") -> "user_signup".
func UserAction(action string) string {
	return "user_" + action
}

// Event is the canonical, normalized occurrence record ready for the
// analytical store. It is constructed once per inbound message, validated,
// handed to the sink, and never mutated afterwards.
type Event struct {
	// EventID is the idempotency key for the sink. Producer-supplied ids
	// are carried verbatim; otherwise one is derived or generated.
	EventID string `json:"event_id"`

	// EventName is the required, non-empty event label.
	EventName string `json:"event_name"`

	// Timestamp is the event occurrence time, not processing time.
	Timestamp time.Time `json:"timestamp"`

	// SubjectID is the acting user or author, if known.
	SubjectID *string `json:"subject_id"`

	// Params preserves insertion order. Duplicate keys are legal and
	// must round-trip unchanged.
	Params []Param `json:"params"`

	// UserContext carries device and network context, if known.
	UserContext *UserContext `json:"user_context"`
}

// Param is one typed key/value entry attached to an Event. Exactly one
// value field is populated; the pairing is decided by InferParam.
type Param struct {
	Key            string   `json:"key"`
	StringValue    *string  `json:"string_value,omitempty"`
	IntValue       *int64   `json:"int_value,omitempty"`
	FloatValue     *float64 `json:"float_value,omitempty"`
	BoolValue      *bool    `json:"bool_value,omitempty"`
	TimestampValue *string  `json:"timestamp_value,omitempty"`
	JSONValue      *string  `json:"json_value,omitempty"`
}

// UserContext holds device and network attribution for an event.
// Absent fields are nil, never empty strings with a different meaning.
type UserContext struct {
	DeviceCategory  *string `json:"device_category"`
	OperatingSystem *string `json:"operating_system"`
	Browser         *string `json:"browser"`
	Country         *string `json:"country"`
	IPAddress       *string `json:"ip_address"`
}

// StringParam builds a string-valued param.
func StringParam(key, value string) Param {
	return Param{Key: key, StringValue: &value}
}

// IntParam builds an integer-valued param.
func IntParam(key string, value int64) Param {
	return Param{Key: key, IntValue: &value}
}

// FloatParam builds a float-valued param.
func FloatParam(key string, value float64) Param {
	return Param{Key: key, FloatValue: &value}
}

// BoolParam builds a boolean-valued param.
func BoolParam(key string, value bool) Param {
	return Param{Key: key, BoolValue: &value}
}

// TimestampParam builds a timestamp-valued param. The value is
// canonicalized to RFC 3339 in UTC.
func TimestampParam(key string, value time.Time) Param {
	s := value.UTC().Format(time.RFC3339)
	return Param{Key: key, TimestampValue: &s}
}

// JSONParam builds a param carrying an opaque serialized composite value.
func JSONParam(key, serialized string) Param {
	return Param{Key: key, JSONValue: &serialized}
}

// Kind reports which value variant is populated, or KindUnknown when the
// param is malformed (zero or multiple variants set).
func (p *Param) Kind() Kind {
	var kind Kind
	count := 0
	if p.StringValue != nil {
		kind = KindString
		count++
	}
	if p.IntValue != nil {
		kind = KindInt
		count++
	}
	if p.FloatValue != nil {
		kind = KindFloat
		count++
	}
	if p.BoolValue != nil {
		kind = KindBool
		count++
	}
	if p.TimestampValue != nil {
		kind = KindTimestamp
		count++
	}
	if p.JSONValue != nil {
		kind = KindJSON
		count++
	}
	if count != 1 {
		return KindUnknown
	}
	return kind
}

// Validate checks that exactly one value variant is set.
func (p *Param) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("param key required")
	}
	if p.Kind() == KindUnknown {
		return fmt.Errorf("param %q must set exactly one value variant", p.Key)
	}
	return nil
}

// Validate checks required fields and param well-formedness.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return &ValidationError{MissingFields: []string{"event_id"}}
	}
	if e.EventName == "" {
		return &ValidationError{MissingFields: []string{"event_name"}}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{MissingFields: []string{"timestamp"}}
	}
	for i := range e.Params {
		if err := e.Params[i].Validate(); err != nil {
			return fmt.Errorf("params[%d]: %w", i, err)
		}
	}
	return nil
}
