// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNilPublisher is returned when attempting to create a publisher with nil input.
var ErrNilPublisher = errors.New("publisher cannot be nil")

// ErrStreamNotFound is returned when the NATS stream doesn't exist.
var ErrStreamNotFound = errors.New("stream not found")

// ErrInvalidConfig is returned when configuration is invalid.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrorCategory classifies failures for dead-letter bookkeeping and
// metrics.
type ErrorCategory string

const (
	// CategoryConnection covers broker or store connectivity failures.
	CategoryConnection ErrorCategory = "connection"
	// CategoryTimeout covers deadline and timeout failures.
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryValidation covers undecodable or unresolvable payloads.
	CategoryValidation ErrorCategory = "validation"
	// CategoryDatabase covers store-side errors.
	CategoryDatabase ErrorCategory = "database"
	// CategoryCapacity covers resource exhaustion.
	CategoryCapacity ErrorCategory = "capacity"
	// CategoryUnknown is the fallback.
	CategoryUnknown ErrorCategory = "unknown"
)

// Retryable reports whether failures in this category can succeed on a
// later attempt. Validation failures cannot: the dead letter entry keeps
// the payload verbatim, so republishing it reproduces the same failure.
func (c ErrorCategory) Retryable() bool {
	return c != CategoryValidation
}

// RetryableError marks a failure that may succeed on redelivery, such as
// a sink transport error. The router's retry middleware redelivers the
// message when a handler returns one.
type RetryableError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Cause
}

// PermanentError marks a failure that redelivery cannot fix, such as a
// malformed payload. The router routes these to the poison queue instead
// of retrying.
type PermanentError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// NewRetryableError creates a retryable error, categorized from the cause.
func NewRetryableError(message string, cause error) *RetryableError {
	return &RetryableError{
		Message:  message,
		Cause:    cause,
		Category: categorizeError(message, cause),
	}
}

// NewPermanentError creates a permanent error, categorized from the cause.
func NewPermanentError(message string, cause error) *PermanentError {
	return &PermanentError{
		Message:  message,
		Cause:    cause,
		Category: categorizeError(message, cause),
	}
}

// IsRetryableError reports whether err is or wraps a RetryableError.
func IsRetryableError(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsPermanentError reports whether err is or wraps a PermanentError.
func IsPermanentError(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// CategoryOf extracts the category from a pipeline error, or
// CategoryUnknown for foreign errors.
func CategoryOf(err error) ErrorCategory {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Category
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryUnknown
}

// categorizeError maps an error to a category by substring matching on
// the combined message text.
func categorizeError(message string, cause error) ErrorCategory {
	text := strings.ToLower(message)
	if cause != nil {
		text += " " + strings.ToLower(cause.Error())

		var de *DecodeError
		var ve *ValidationError
		if errors.As(cause, &de) || errors.As(cause, &ve) {
			return CategoryValidation
		}
	}

	switch {
	case strings.Contains(text, "connection"),
		strings.Contains(text, "broken pipe"),
		strings.Contains(text, "no such host"),
		strings.Contains(text, "unreachable"):
		return CategoryConnection
	case strings.Contains(text, "timeout"),
		strings.Contains(text, "deadline"):
		return CategoryTimeout
	case strings.Contains(text, "decode"),
		strings.Contains(text, "parse"),
		strings.Contains(text, "validation"),
		strings.Contains(text, "unmarshal"):
		return CategoryValidation
	case strings.Contains(text, "database"),
		strings.Contains(text, "duckdb"),
		strings.Contains(text, "sql"),
		strings.Contains(text, "constraint"):
		return CategoryDatabase
	case strings.Contains(text, "too many"),
		strings.Contains(text, "out of memory"),
		strings.Contains(text, "buffer full"),
		strings.Contains(text, "capacity"):
		return CategoryCapacity
	default:
		return CategoryUnknown
	}
}
