package page

import (
	"fmt"
	"math"
	"strconv"
)

// Stored values come back from JSON backends as float64 and []any, so pages
// read them through these helpers.

// AsString returns v as a string.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// AsInt returns v as an int.
func AsInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

// AsStrings returns v as a string slice.
func AsStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, AsString(item))
		}
		return out
	default:
		return nil
	}
}

// ToAny converts a string slice into the JSON-native form kept in the store.
func ToAny(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
