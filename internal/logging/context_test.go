// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := context.Background()

	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Errorf("Expected empty correlation ID on fresh context, got %q", got)
	}

	ctx = ContextWithCorrelationID(ctx, "abc12345")
	if got := CorrelationIDFromContext(ctx); got != "abc12345" {
		t.Errorf("Expected correlation ID abc12345, got %q", got)
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	a := GenerateCorrelationID()
	b := GenerateCorrelationID()

	if len(a) != 8 {
		t.Errorf("Expected 8-character correlation ID, got %q (len %d)", a, len(a))
	}
	if a == b {
		t.Errorf("Expected distinct correlation IDs, got %q twice", a)
	}
}

func TestCtxAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithCorrelationID(ctx, "deadbeef")

	Ctx(ctx).Info().Msg("with context")

	if !strings.Contains(buf.String(), `"correlation_id":"deadbeef"`) {
		t.Errorf("Expected correlation_id field in output, got %q", buf.String())
	}
}

func TestLoggerFromContextFallsBack(t *testing.T) {
	// No logger stored: must return the global logger, not panic.
	logger := LoggerFromContext(context.Background())
	logger.Info().Msg("global fallback")
}
