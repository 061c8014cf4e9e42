// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestDecodePayload_Empty(t *testing.T) {
	for _, payload := range [][]byte{nil, {}, []byte("   "), []byte("\n\t")} {
		obj, err := DecodePayload(payload)
		if err != nil {
			t.Fatalf("Unexpected error for %q: %v", payload, err)
		}
		if obj == nil {
			t.Fatal("Expected empty object, got nil")
		}
		if obj.Len() != 0 {
			t.Errorf("Expected empty object, got %d keys", obj.Len())
		}
	}
}

func TestDecodePayload_RawJSON(t *testing.T) {
	obj, err := DecodePayload([]byte(`{"event": "note_created", "count": 3, "done": true, "missing": null}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if name, ok := obj.GetString("event"); !ok || name != "note_created" {
		t.Errorf("Expected event=note_created, got %q (present=%v)", name, ok)
	}
	if raw, ok := obj.Get("count"); !ok {
		t.Error("Expected count to be present")
	} else if n, isNum := raw.(json.Number); !isNum || n.String() != "3" {
		t.Errorf("Expected count as json.Number 3, got %T %v", raw, raw)
	}
	if raw, ok := obj.Get("done"); !ok {
		t.Error("Expected done to be present")
	} else if b, isBool := raw.(bool); !isBool || !b {
		t.Errorf("Expected done=true, got %T %v", raw, raw)
	}
	if raw, ok := obj.Get("missing"); !ok || raw != nil {
		t.Errorf("Expected explicit null, got %v (present=%v)", raw, ok)
	}
}

func TestDecodePayload_PreservesKeyOrder(t *testing.T) {
	obj, err := DecodePayload([]byte(`{"zebra": 1, "apple": 2, "mango": 3}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []string{"zebra", "apple", "mango"}
	keys := obj.Keys()
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %d", len(want), len(keys))
	}
	for i, key := range want {
		if keys[i] != key {
			t.Errorf("Key %d: expected %q, got %q", i, key, keys[i])
		}
	}
}

func TestDecodePayload_Nested(t *testing.T) {
	obj, err := DecodePayload([]byte(`{"event_data": {"note_id": "n1", "tags": ["go", "nats"]}}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	data, ok := obj.GetObject("event_data")
	if !ok {
		t.Fatal("Expected event_data object")
	}
	if id, ok := data.GetString("note_id"); !ok || id != "n1" {
		t.Errorf("Expected note_id=n1, got %q", id)
	}
	tags, ok := data.GetArray("tags")
	if !ok || len(tags) != 2 {
		t.Fatalf("Expected 2 tags, got %v", tags)
	}
	if tags[0] != "go" || tags[1] != "nats" {
		t.Errorf("Unexpected tags: %v", tags)
	}
}

func TestDecodePayload_Base64(t *testing.T) {
	raw := `{"event": "note_viewed", "user_id": "u7"}`
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))

	obj, err := DecodePayload([]byte(encoded))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if name, ok := obj.GetString("event"); !ok || name != "note_viewed" {
		t.Errorf("Expected event=note_viewed, got %q", name)
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"event": `},
		{"plain text", `hello world`},
		{"base64 of non-json", base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"top-level array", `[1, 2, 3]`},
		{"top-level string", `"note_created"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodePayload([]byte(tc.payload))
			if err == nil {
				t.Fatal("Expected error")
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Expected DecodeError, got %T: %v", err, err)
			}
			if decodeErr.RawExcerpt == "" {
				t.Error("Expected non-empty raw excerpt")
			}
		})
	}
}

func TestDecodePayload_ExcerptTruncated(t *testing.T) {
	payload := "x" + strings.Repeat("y", 500)

	_, err := DecodePayload([]byte(payload))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
	if len(decodeErr.RawExcerpt) != maxRawExcerpt {
		t.Errorf("Expected excerpt of %d bytes, got %d", maxRawExcerpt, len(decodeErr.RawExcerpt))
	}
}

func TestObject_SetOverwrite(t *testing.T) {
	obj := NewObject()
	obj.Set("a", 1)
	obj.Set("b", 2)
	obj.Set("a", 3)

	if obj.Len() != 2 {
		t.Fatalf("Expected 2 keys after overwrite, got %d", obj.Len())
	}
	if v, _ := obj.Get("a"); v != 3 {
		t.Errorf("Expected overwritten value 3, got %v", v)
	}
	if obj.Keys()[0] != "a" {
		t.Errorf("Expected key order preserved on overwrite, got %v", obj.Keys())
	}
}
