package normalize

import (
	"sort"
	"strings"
	"time"
)

// BoundedString trims v, fails if the trimmed length exceeds max, and returns
// ("", false) for an empty result instead of failing.
func BoundedString(v interface{}, field string, max int) (string, bool, error) {
	s, ok := v.(string)
	if !ok {
		if v == nil {
			return "", false, nil
		}
		return "", false, Violation("VALIDATION_CONTRACT_VIOLATION", field+" must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false, nil
	}
	if len(s) > max {
		return "", false, Violation("VALIDATION_CONTRACT_VIOLATION", field+" exceeds max length")
	}
	return s, true, nil
}

const (
	maxSortedUniqueEntries = 128
	maxSortedUniqueChars   = 256
)

// SortedUnique trims every entry, drops empties and duplicates, sorts
// ASCII-lex, and caps the result at 128 entries.
func SortedUnique(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, raw := range values {
		s := strings.TrimSpace(raw)
		if s == "" || len(s) > maxSortedUniqueChars || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) > maxSortedUniqueEntries {
		out = out[:maxSortedUniqueEntries]
	}
	return out
}

// GuardedStringArrayOpts controls GuardedStringArray's required-nonempty contract.
type GuardedStringArrayOpts struct {
	Required      bool
	RequiredError string
}

// GuardedStringArray validates that v, if present, is an array of non-empty
// strings, then delegates to SortedUnique. When Required is set and the
// result is empty, it fails with RequiredError (or a default message).
func GuardedStringArray(v interface{}, field string, opts GuardedStringArrayOpts) ([]string, error) {
	var raw []string
	if v != nil {
		arr, ok := v.([]interface{})
		if !ok {
			return nil, Violation("VALIDATION_CONTRACT_VIOLATION", field+" must be an array of strings")
		}
		for _, item := range arr {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, Violation("VALIDATION_CONTRACT_VIOLATION", field+" entries must be non-empty strings")
			}
			raw = append(raw, s)
		}
	}
	out := SortedUnique(raw)
	if opts.Required && len(out) == 0 {
		msg := opts.RequiredError
		if msg == "" {
			msg = field + " must contain at least one entry"
		}
		return nil, Violation("VALIDATION_CONTRACT_VIOLATION", msg)
	}
	return out, nil
}

// ClampUnit coerces v to a float64 in [0,1], falling back to fallback when v
// is absent or not numeric.
func ClampUnit(v interface{}, fallback float64) float64 {
	f, ok := asFloat(v)
	if !ok {
		f = fallback
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// EpochZero is the fallback timestamp used whenever a request omits one.
const EpochZero = "1970-01-01T00:00:00.000Z"

// ISOTimestamp parses v as RFC3339/ISO-8601 and re-renders it in the
// canonical millisecond UTC form. Absence returns fallback (or EpochZero).
func ISOTimestamp(v interface{}, field, fallback string) (string, error) {
	if v == nil {
		if fallback == "" {
			return EpochZero, nil
		}
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", Violation("VALIDATION_CONTRACT_VIOLATION", field+" must be an ISO-8601 string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		if fallback == "" {
			return EpochZero, nil
		}
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return "", Violation("VALIDATION_CONTRACT_VIOLATION", field+" is not a valid ISO-8601 timestamp")
		}
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z"), nil
}

// ClampInt clamps n into [min,max].
func ClampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// IntOrDefault coerces v to an int, falling back to def when absent/invalid.
func IntOrDefault(v interface{}, def int) int {
	f, ok := asFloat(v)
	if !ok {
		return def
	}
	return int(f)
}

// StringOrDefault coerces v to a trimmed string, falling back to def.
func StringOrDefault(v interface{}, def string) string {
	s, ok := v.(string)
	if !ok {
		return def
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// BoolOrDefault coerces v to a bool, falling back to def.
func BoolOrDefault(v interface{}, def bool) bool {
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
