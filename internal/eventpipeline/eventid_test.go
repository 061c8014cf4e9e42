// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"regexp"
	"testing"
)

var eventIDPattern = regexp.MustCompile(`^evt_\d+_[0-9a-z]{9}$`)

func TestGenerateEventID_Format(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := GenerateEventID()
		if !eventIDPattern.MatchString(id) {
			t.Fatalf("Unexpected id format: %s", id)
		}
	}
}

func TestGenerateEventID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateEventID()
		if seen[id] {
			t.Fatalf("Duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestDeriveEventID(t *testing.T) {
	t.Run("deterministic for same message", func(t *testing.T) {
		first := DeriveEventID("0193b6c2-7b13-7b3a-9c6d-1b2f3a4c5d6e")
		for i := 0; i < 10; i++ {
			if got := DeriveEventID("0193b6c2-7b13-7b3a-9c6d-1b2f3a4c5d6e"); got != first {
				t.Fatalf("Expected stable id, got %s and %s", first, got)
			}
		}
	})

	t.Run("distinct messages get distinct ids", func(t *testing.T) {
		a := DeriveEventID("message-a")
		b := DeriveEventID("message-b")
		if a == b {
			t.Errorf("Expected distinct ids, both %s", a)
		}
	})

	t.Run("derived prefix", func(t *testing.T) {
		id := DeriveEventID("message-a")
		if len(id) < 7 || id[:6] != "evt_m_" {
			t.Errorf("Expected evt_m_ prefix, got %s", id)
		}
	})

	t.Run("empty uuid falls back to generated", func(t *testing.T) {
		id := DeriveEventID("")
		if !eventIDPattern.MatchString(id) {
			t.Errorf("Expected generated id shape, got %s", id)
		}
	})
}
