// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"time"

	"github.com/goccy/go-json"
)

// ShapeKind identifies which of the historical producer encodings a
// decoded payload uses.
type ShapeKind int

const (
	// ShapeParamsArray carries an explicit params sequence of already
	// tagged entries. Newest producers emit this.
	ShapeParamsArray ShapeKind = iota
	// ShapeNestedObject carries free-form event_data and/or user_context
	// objects whose fields are inferred into params.
	ShapeNestedObject
	// ShapeLegacyFlat is the original flat note document with no event
	// envelope at all.
	ShapeLegacyFlat
)

// String returns the label used in metrics and logs.
func (s ShapeKind) String() string {
	switch s {
	case ShapeParamsArray:
		return "params_array"
	case ShapeNestedObject:
		return "nested_object"
	default:
		return "legacy_flat"
	}
}

// legacyFields is the fixed allow-list of flat-document field names, in
// the order their params are emitted. Anything outside this list (other
// than createdAt, updatedAt and customParams) is ignored.
var legacyFields = []string{
	"_id", "author", "content", "title", "tags",
	"category", "isRemoved", "favoriteCount", "favoritedBy", "source",
}

// Intermediate is the shape-independent representation produced by
// Reconcile and consumed by the Normalizer. Unresolved fields stay at
// their zero value; the Normalizer decides whether that is an error.
type Intermediate struct {
	Shape     ShapeKind
	EventName string
	EventID   string
	Timestamp time.Time
	SubjectID string
	Params    []Param

	// ExplicitContext is a producer-supplied user_context block.
	// InferredContext is derived from loose top-level fields such as
	// user_agent and ip_address. When both are present the explicit
	// block wins per field.
	ExplicitContext *UserContext
	InferredContext *UserContext
}

// Classify decides which encoding a decoded payload uses. The checks run
// in priority order and the first match wins, which resolves ambiguity
// when a payload satisfies multiple shapes during a migration window.
func Classify(doc *Object) ShapeKind {
	if _, ok := doc.GetArray("params"); ok {
		return ShapeParamsArray
	}
	if _, ok := doc.GetObject("event_data"); ok {
		return ShapeNestedObject
	}
	if _, ok := doc.GetObject("user_context"); ok {
		return ShapeNestedObject
	}
	return ShapeLegacyFlat
}

// Reconcile converts a decoded payload into the intermediate
// representation. It never fails: missing business fields are left
// unresolved for the Normalizer, and malformed param entries surface
// there as validation failures. Only structurally undecodable input
// fails, and that happens earlier in DecodePayload.
func Reconcile(doc *Object) *Intermediate {
	inter := &Intermediate{Shape: Classify(doc)}

	// The new field name wins over the legacy one when both appear.
	if name, ok := doc.GetString("event"); ok {
		inter.EventName = name
	} else if name, ok := doc.GetString("event_name"); ok {
		inter.EventName = name
	}

	if id, ok := doc.GetString("event_id"); ok {
		inter.EventID = id
	}

	if raw, ok := doc.Get("timestamp"); ok {
		if t, ok := parseTimestamp(raw); ok {
			inter.Timestamp = t
		}
	}
	if inter.Timestamp.IsZero() {
		if raw, ok := doc.Get("event_timestamp"); ok {
			if t, ok := parseTimestamp(raw); ok {
				inter.Timestamp = t
			}
		}
	}

	inter.SubjectID = subjectFrom(doc)
	inter.InferredContext = inferredContext(doc)

	switch inter.Shape {
	case ShapeParamsArray:
		reconcileParamsArray(doc, inter)
	case ShapeNestedObject:
		reconcileNestedObject(doc, inter)
	default:
		reconcileLegacyFlat(doc, inter)
	}

	return inter
}

// subjectFrom prefers an explicit user field, then an author-like field.
func subjectFrom(doc *Object) string {
	if raw, ok := doc.Get("user_id"); ok {
		switch v := raw.(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	if author, ok := doc.GetString("author"); ok {
		return author
	}
	return ""
}

// inferredContext builds a context block from loose top-level fields.
// Returns nil when none are present.
func inferredContext(doc *Object) *UserContext {
	var ctx *UserContext
	if ua, ok := doc.GetString("user_agent"); ok {
		ctx = ContextFromUserAgent(ua)
	}
	if ip, ok := doc.GetString("ip_address"); ok {
		if ctx == nil {
			ctx = &UserContext{}
		}
		ctx.IPAddress = &ip
	}
	if country, ok := doc.GetString("country"); ok {
		if ctx == nil {
			ctx = &UserContext{}
		}
		ctx.Country = &country
	}
	return ctx
}

// explicitContext maps a user_context object onto UserContext fields.
func explicitContext(obj *Object) *UserContext {
	ctx := &UserContext{}
	if v, ok := obj.GetString("device_category"); ok {
		ctx.DeviceCategory = &v
	}
	if v, ok := obj.GetString("operating_system"); ok {
		ctx.OperatingSystem = &v
	}
	if v, ok := obj.GetString("browser"); ok {
		ctx.Browser = &v
	}
	if v, ok := obj.GetString("country"); ok {
		ctx.Country = &v
	}
	if v, ok := obj.GetString("ip_address"); ok {
		ctx.IPAddress = &v
	}
	return ctx
}

// reconcileParamsArray takes params verbatim, rebuilding each tagged
// entry. Entries whose tag and value disagree come out with no variant
// set and fail validation in the Normalizer.
func reconcileParamsArray(doc *Object, inter *Intermediate) {
	arr, _ := doc.GetArray("params")
	inter.Params = make([]Param, 0, len(arr))
	for _, entry := range arr {
		obj, ok := entry.(*Object)
		if !ok {
			inter.Params = append(inter.Params, Param{})
			continue
		}
		inter.Params = append(inter.Params, paramFromTagged(obj))
	}
	if ctxObj, ok := doc.GetObject("user_context"); ok {
		inter.ExplicitContext = explicitContext(ctxObj)
	}
}

// paramFromTagged rebuilds a Param from an already-tagged wire entry.
// Each recognized tag is populated only when the value matches the tag's
// type, so a mis-tagged entry (e.g. a boolean under string_value) stays
// unset and is rejected downstream rather than silently re-typed.
func paramFromTagged(obj *Object) Param {
	p := Param{}
	if key, ok := obj.GetString("key"); ok {
		p.Key = key
	}
	if v, ok := obj.GetString("string_value"); ok {
		p.StringValue = &v
	}
	if raw, ok := obj.Get("int_value"); ok {
		if n, ok := raw.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				p.IntValue = &i
			}
		}
	}
	if raw, ok := obj.Get("float_value"); ok {
		if n, ok := raw.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				p.FloatValue = &f
			}
		}
	}
	if raw, ok := obj.Get("bool_value"); ok {
		if v, ok := raw.(bool); ok {
			p.BoolValue = &v
		}
	}
	if v, ok := obj.GetString("timestamp_value"); ok {
		if _, valid := parseTimestamp(v); valid {
			p.TimestampValue = &v
		}
	}
	if raw, ok := obj.Get("json_value"); ok {
		switch v := raw.(type) {
		case string:
			p.JSONValue = &v
		case *Object, []any:
			// Some producers inline the composite instead of
			// pre-serializing it.
			if serialized, err := canonicalJSON(v); err == nil {
				p.JSONValue = &serialized
			}
		}
	}
	return p
}

// reconcileNestedObject infers a param per event_data field, in document
// order, and maps user_context directly.
func reconcileNestedObject(doc *Object, inter *Intermediate) {
	if data, ok := doc.GetObject("event_data"); ok {
		inter.Params = appendInferred(inter.Params, data)
	}
	if ctxObj, ok := doc.GetObject("user_context"); ok {
		inter.ExplicitContext = explicitContext(ctxObj)
	}
}

// reconcileLegacyFlat extracts the fixed allow-list of flat note fields,
// turns createdAt/updatedAt into dedicated timestamp params, and flattens
// any customParams object.
func reconcileLegacyFlat(doc *Object, inter *Intermediate) {
	for _, field := range legacyFields {
		raw, ok := doc.Get(field)
		if !ok {
			continue
		}
		if p, ok := InferParam(field, raw); ok {
			inter.Params = append(inter.Params, p)
		}
	}

	for _, field := range []string{"createdAt", "updatedAt"} {
		raw, ok := doc.Get(field)
		if !ok {
			continue
		}
		if t, ok := parseTimestamp(raw); ok {
			inter.Params = append(inter.Params, TimestampParam(field, t))
		}
	}

	if custom, ok := doc.GetObject("customParams"); ok {
		inter.Params = appendInferred(inter.Params, custom)
	}

	// Legacy documents carry no event timestamp of their own; the note
	// creation time is the closest thing to an occurrence time.
	if inter.Timestamp.IsZero() {
		if raw, ok := doc.Get("createdAt"); ok {
			if t, ok := parseTimestamp(raw); ok {
				inter.Timestamp = t
			}
		}
	}
}

// appendInferred infers one param per object field, in document order.
// Fields whose value is null are skipped.
func appendInferred(params []Param, obj *Object) []Param {
	for _, key := range obj.Keys() {
		raw, _ := obj.Get(key)
		if p, ok := InferParam(key, raw); ok {
			params = append(params, p)
		}
	}
	return params
}
