// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"
)

// maxRawExcerpt caps how much of an undecodable payload is carried in a
// DecodeError for logging.
const maxRawExcerpt = 128

// DecodeError reports a payload that cannot be decoded. Redelivery will not
// fix a structurally invalid payload, so this error is never retried.
type DecodeError struct {
	// RawExcerpt is a truncated copy of the offending payload for logs.
	RawExcerpt string
	// Err is the underlying decoding failure.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload: %v (excerpt: %q)", e.Err, e.RawExcerpt)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(raw []byte, err error) *DecodeError {
	excerpt := raw
	if len(excerpt) > maxRawExcerpt {
		excerpt = excerpt[:maxRawExcerpt]
	}
	return &DecodeError{RawExcerpt: string(excerpt), Err: err}
}

// Object is a decoded JSON object that preserves document key order.
// Producers send params and event_data as JSON objects whose field order
// is significant for the resulting param sequence, and Go maps would
// discard it.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an empty ordered object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set stores a value, appending the key on first insertion.
func (o *Object) Set(key string, value any) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get returns the value for key and whether it was present.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in document order. The slice is shared; callers
// must not mutate it.
func (o *Object) Keys() []string {
	return o.keys
}

// Len returns the number of entries.
func (o *Object) Len() int {
	return len(o.keys)
}

// GetString returns the value for key as a non-empty string, if it is one.
func (o *Object) GetString(key string) (string, bool) {
	v, ok := o.values[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// GetObject returns the value for key as an ordered object, if it is one.
func (o *Object) GetObject(key string) (*Object, bool) {
	v, ok := o.values[key]
	if !ok {
		return nil, false
	}
	obj, ok := v.(*Object)
	return obj, ok
}

// GetArray returns the value for key as a sequence, if it is one.
func (o *Object) GetArray(key string) ([]any, bool) {
	v, ok := o.values[key]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// MarshalJSON emits the object with keys in sorted order, matching the
// canonical serialization used for json-valued params.
func (o *Object) MarshalJSON() ([]byte, error) {
	s, err := canonicalJSON(o)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// DecodePayload turns an opaque message body into a structured value.
//
// The payload may be raw JSON or base64-encoded JSON; both are accepted
// because producers have shipped either over time. An empty or absent
// payload decodes to an empty structure rather than an error, since
// producers legitimately send heartbeat-like empty bodies. Anything else
// that fails to decode returns a DecodeError.
func DecodePayload(raw []byte) (*Object, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return NewObject(), nil
	}

	candidate := trimmed
	if decoded, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil && json.Valid(decoded) {
		candidate = decoded
	}

	dec := json.NewDecoder(bytes.NewReader(candidate))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, newDecodeError(trimmed, err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, newDecodeError(trimmed, fmt.Errorf("payload is not a JSON object"))
	}

	obj, err := decodeObject(dec)
	if err != nil {
		return nil, newDecodeError(trimmed, err)
	}
	return obj, nil
}

// decodeObject consumes tokens after an opening '{' up to and including
// the matching '}'.
func decodeObject(dec *json.Decoder) (*Object, error) {
	obj := NewObject()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is not a string")
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj.Set(key, value)
	}
	// Closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	arr := make([]any, 0)
	for dec.More() {
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, value)
	}
	// Closing bracket.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	default:
		// string, json.Number, bool, or nil.
		return tok, nil
	}
}
