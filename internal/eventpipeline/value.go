// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Kind identifies which value variant a Param carries.
type Kind int

const (
	// KindUnknown marks a malformed param (zero or multiple variants set).
	KindUnknown Kind = iota
	// KindString is a textual value.
	KindString
	// KindInt is a whole-number value.
	KindInt
	// KindFloat is a numeric value with a fractional component.
	KindFloat
	// KindBool is a boolean value.
	KindBool
	// KindTimestamp is a date/time value, stored as RFC 3339 UTC.
	KindTimestamp
	// KindJSON is an opaque serialized composite value.
	KindJSON
)

// String returns the snake_case name used in metrics and logs.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// canonicalJSON serializes a decoded value deterministically: object keys
// are emitted in sorted order regardless of document order, so repeated
// runs over equal inputs produce byte-identical output.
func canonicalJSON(value any) (string, error) {
	var b strings.Builder
	if err := canonicalAppend(&b, value); err != nil {
		return "", err
	}
	return b.String(), nil
}

func canonicalAppend(b *strings.Builder, value any) error {
	switch v := value.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(v))
	case string:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.Write(data)
	case json.Number:
		b.WriteString(v.String())
	case float64:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.Write(data)
	case int64:
		b.WriteString(strconv.FormatInt(v, 10))
	case int:
		b.WriteString(strconv.Itoa(v))
	case time.Time:
		b.WriteByte('"')
		b.WriteString(v.UTC().Format(time.RFC3339))
		b.WriteByte('"')
	case []any:
		b.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := canonicalAppend(b, elem); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case *Object:
		keys := append([]string(nil), v.Keys()...)
		sort.Strings(keys)
		b.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kdata, err := json.Marshal(key)
			if err != nil {
				return err
			}
			b.Write(kdata)
			b.WriteByte(':')
			elem, _ := v.Get(key)
			if err := canonicalAppend(b, elem); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kdata, err := json.Marshal(key)
			if err != nil {
				return err
			}
			b.Write(kdata)
			b.WriteByte(':')
			if err := canonicalAppend(b, v[key]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.Write(data)
	}
	return nil
}
