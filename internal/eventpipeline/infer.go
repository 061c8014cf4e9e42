// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"
)

// InferParam maps an arbitrary decoded value to exactly one typed param
// variant. It is total (never fails) and deterministic: equal inputs yield
// byte-identical params, including the canonical serialization of
// composite values.
//
// Rules, evaluated in order:
//
//  1. nil skips the field entirely (ok=false); optional data is dropped
//     rather than encoded as an explicit null.
//  2. Textual values become string_value.
//  3. Whole numbers become int_value, fractional numbers float_value.
//  4. Booleans become bool_value.
//  5. Date/time values become timestamp_value, RFC 3339 in UTC.
//  6. Objects and sequences become json_value via canonical serialization.
//  7. Anything else is coerced to its textual representation.
func InferParam(key string, value any) (Param, bool) {
	switch v := value.(type) {
	case nil:
		return Param{}, false
	case string:
		return StringParam(key, v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return IntParam(key, i), true
		}
		f, err := v.Float64()
		if err != nil {
			// Out-of-range literal; keep the digits as text.
			return StringParam(key, v.String()), true
		}
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return IntParam(key, int64(f)), true
		}
		return FloatParam(key, f), true
	case int:
		return IntParam(key, int64(v)), true
	case int64:
		return IntParam(key, v), true
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) && !math.IsNaN(v) &&
			v >= math.MinInt64 && v <= math.MaxInt64 {
			return IntParam(key, int64(v)), true
		}
		return FloatParam(key, v), true
	case bool:
		return BoolParam(key, v), true
	case time.Time:
		return TimestampParam(key, v), true
	case []any:
		serialized, err := canonicalJSON(v)
		if err != nil {
			return StringParam(key, fmt.Sprint(v)), true
		}
		return JSONParam(key, serialized), true
	case *Object:
		serialized, err := canonicalJSON(v)
		if err != nil {
			return StringParam(key, fmt.Sprint(v)), true
		}
		return JSONParam(key, serialized), true
	case map[string]any:
		serialized, err := canonicalJSON(v)
		if err != nil {
			return StringParam(key, fmt.Sprint(v)), true
		}
		return JSONParam(key, serialized), true
	default:
		return StringParam(key, fmt.Sprint(v)), true
	}
}

// parseTimestamp interprets a decoded value as an event time. Producers
// have sent RFC 3339 strings, epoch milliseconds, and epoch seconds.
func parseTimestamp(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		return time.Time{}, false
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epochToTime(f), true
	case float64:
		return epochToTime(v), true
	case int64:
		return epochToTime(float64(v)), true
	case int:
		return epochToTime(float64(v)), true
	default:
		return time.Time{}, false
	}
}

// epochToTime treats values of at least 1e12 as milliseconds and smaller
// ones as seconds. The crossover corresponds to 2001 in milliseconds and
// 33658 in seconds, far outside any real event time for both units.
func epochToTime(v float64) time.Time {
	if math.Abs(v) >= 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}
