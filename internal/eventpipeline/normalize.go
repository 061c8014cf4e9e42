// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/jtciou26/notestream/internal/metrics"
)

// ValidationError reports required fields that could not be resolved
// after reconciliation, or params that arrived malformed. Like a decode
// failure it is non-retryable: redelivery cannot supply a missing field.
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event validation failed: unresolved fields [%s]", strings.Join(e.MissingFields, ", "))
}

// NormalizerConfig holds normalization policy.
type NormalizerConfig struct {
	// DefaultEventName labels legacy flat documents, which predate
	// explicit event naming. Defaults to DefaultEventName.
	DefaultEventName string
}

// Normalizer assembles canonical Events from the Reconciler's
// intermediate representation. It is stateless and safe for concurrent
// use.
type Normalizer struct {
	cfg NormalizerConfig

	// now and generateID are swappable for deterministic tests.
	now        func() time.Time
	generateID func() string
}

// NewNormalizer creates a normalizer with the given policy.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.DefaultEventName == "" {
		cfg.DefaultEventName = DefaultEventName
	}
	return &Normalizer{
		cfg:        cfg,
		now:        time.Now,
		generateID: GenerateEventID,
	}
}

// Normalize produces a canonical Event or fails with a ValidationError.
//
// fallbackID is used when the producer supplied no event_id; consumers
// pass an id derived from the broker message so redeliveries of the same
// message normalize to the same Event. An empty fallbackID falls through
// to a freshly generated id.
//
// Legacy flat documents get lenient defaults matching the historical
// producer behavior: the default event label, and processing time when no
// creation time exists. The structured shapes must resolve both name and
// timestamp or fail.
func (n *Normalizer) Normalize(inter *Intermediate, fallbackID string) (*Event, error) {
	name := inter.EventName
	timestamp := inter.Timestamp

	if inter.Shape == ShapeLegacyFlat {
		if name == "" {
			name = n.cfg.DefaultEventName
		}
		if timestamp.IsZero() {
			timestamp = n.now()
		}
	}

	var missing []string
	if name == "" {
		missing = append(missing, "event_name")
	}
	if timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	for i := range inter.Params {
		if err := inter.Params[i].Validate(); err != nil {
			missing = append(missing, fmt.Sprintf("params[%d]", i))
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{MissingFields: missing}
	}

	event := &Event{
		EventID:   inter.EventID,
		EventName: name,
		Timestamp: timestamp,
		Params:    inter.Params,
	}
	if event.EventID == "" {
		if fallbackID != "" {
			event.EventID = fallbackID
			metrics.RecordAssignedEventID("derived")
		} else {
			event.EventID = n.generateID()
			metrics.RecordAssignedEventID("generated")
		}
	}
	if inter.SubjectID != "" {
		subject := inter.SubjectID
		event.SubjectID = &subject
	}
	event.UserContext = mergeContexts(inter.ExplicitContext, inter.InferredContext)

	return event, nil
}

// mergeContexts overlays an explicit producer-supplied context block on
// top of fields inferred from loose payload data. Explicit wins per
// field; nil when neither side has anything.
func mergeContexts(explicit, inferred *UserContext) *UserContext {
	if explicit == nil && inferred == nil {
		return nil
	}
	if explicit == nil {
		return inferred
	}
	if inferred == nil {
		return explicit
	}
	merged := *explicit
	if merged.DeviceCategory == nil {
		merged.DeviceCategory = inferred.DeviceCategory
	}
	if merged.OperatingSystem == nil {
		merged.OperatingSystem = inferred.OperatingSystem
	}
	if merged.Browser == nil {
		merged.Browser = inferred.Browser
	}
	if merged.Country == nil {
		merged.Country = inferred.Country
	}
	if merged.IPAddress == nil {
		merged.IPAddress = inferred.IPAddress
	}
	return &merged
}
