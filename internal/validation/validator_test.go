// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package validation

import (
	"strings"
	"testing"
)

type listRequest struct {
	Limit int    `validate:"min=1,max=1000"`
	Since string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func TestValidateStructPasses(t *testing.T) {
	req := listRequest{Limit: 50, Since: "2026-03-01T00:00:00Z"}
	if err := ValidateStruct(&req); err != nil {
		t.Errorf("Expected valid request, got: %v", err)
	}
}

func TestValidateStructSingleError(t *testing.T) {
	req := listRequest{Limit: 0}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("Expected validation error")
	}

	errs := err.Errors()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 field error, got %d", len(errs))
	}
	if errs[0].Field != "Limit" {
		t.Errorf("Field = %q, want Limit", errs[0].Field)
	}
	if errs[0].Tag != "min" {
		t.Errorf("Tag = %q, want min", errs[0].Tag)
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if apiErr.Details["field"] != "Limit" {
		t.Errorf("Details field = %v, want Limit", apiErr.Details["field"])
	}
	if !strings.Contains(apiErr.Message, "at least 1") {
		t.Errorf("Message = %q, want min translation", apiErr.Message)
	}
}

func TestValidateStructMultipleErrors(t *testing.T) {
	req := listRequest{Limit: 5000, Since: "not-a-date"}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if len(err.Errors()) != 2 {
		t.Fatalf("Expected 2 field errors, got %d", len(err.Errors()))
	}

	apiErr := err.ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("Expected fields detail, got %T", apiErr.Details["fields"])
	}
	if len(fields) != 2 {
		t.Errorf("Expected 2 field details, got %d", len(fields))
	}
	if !strings.Contains(apiErr.Message, "RFC3339") {
		t.Errorf("Message = %q, want datetime translation", apiErr.Message)
	}
}

func TestGetValidatorSingleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("Expected the same validator instance")
	}
}
