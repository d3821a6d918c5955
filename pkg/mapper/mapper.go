// Package mapper reads fields out of dynamically-shaped API responses.
// The same logical attribute can arrive under different names or casings
// depending on which API surface answered, so every reader takes an
// ordered list of candidate names and returns the first present, non-null
// value. All readers are total: they never panic, and a nil or empty
// record yields the documented default.
package mapper

import (
	"encoding/json"
	"time"

	"github.com/entrascope/entrascope/pkg/derive"
)

// First returns the first present, non-nil value among the candidate
// names, or nil when none is present.
func First(rec map[string]any, names ...string) any {
	for _, name := range names {
		if v, ok := rec[name]; ok && v != nil {
			return v
		}
	}
	return nil
}

// String returns the first candidate as a string, "" when absent or not a
// string.
func String(rec map[string]any, names ...string) string {
	s, _ := First(rec, names...).(string)
	return s
}

// Bool returns the first candidate as a bool. Absence means false; callers
// use this only for flags whose absence means the feature is off.
func Bool(rec map[string]any, names ...string) bool {
	b, _ := First(rec, names...).(bool)
	return b
}

// Int returns the first numeric candidate, or nil when absent. A missing
// count stays nil; it never silently becomes zero.
func Int(rec map[string]any, names ...string) *int {
	switch v := First(rec, names...).(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		n := v
		return &n
	case int32:
		n := int(v)
		return &n
	case int64:
		n := int(v)
		return &n
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n := int(i)
			return &n
		}
	}
	return nil
}

// IntOr returns the first numeric candidate, or def when absent. Used for
// the few fields where zero is the documented default.
func IntOr(rec map[string]any, def int, names ...string) int {
	if p := Int(rec, names...); p != nil {
		return *p
	}
	return def
}

// Float returns the first numeric candidate as a float64 pointer, or nil
// when absent.
func Float(rec map[string]any, names ...string) *float64 {
	switch v := First(rec, names...).(type) {
	case float64:
		f := v
		return &f
	case int:
		f := float64(v)
		return &f
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	}
	return nil
}

// Time parses the first candidate as a Graph timestamp, nil when absent or
// unparsable.
func Time(rec map[string]any, names ...string) *time.Time {
	return derive.ParseGraphTime(String(rec, names...))
}

// StringSlice returns the first candidate as a string slice, keeping only
// string elements. Absent yields nil.
func StringSlice(rec map[string]any, names ...string) []string {
	switch v := First(rec, names...).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Map returns the first candidate that is a nested object, nil when absent.
func Map(rec map[string]any, names ...string) map[string]any {
	m, _ := First(rec, names...).(map[string]any)
	return m
}

// Maps returns the first candidate that is an array of nested objects.
func Maps(rec map[string]any, names ...string) []map[string]any {
	raw, ok := First(rec, names...).([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
