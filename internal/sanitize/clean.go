package sanitize

import (
	"sort"
	"strings"
)

// DeepClean returns a cleaned copy of v.
//
// Cleaning is polymorphic over the JSON value types:
//   - string: ASCII control characters (0x00-0x1F, 0x7F) are removed and
//     surrounding whitespace is trimmed
//   - []any: each element is cleaned recursively, order preserved
//   - map[string]any: both keys and values are cleaned recursively
//   - anything else (numbers, booleans, nil): returned unchanged
//
// Map keys are visited in sorted order so that key collisions (two distinct
// original keys cleaning to the same string) resolve deterministically: the
// later key in sort order wins.
//
// Parameters:
//   - v: Decoded JSON value (typically from json.Unmarshal into any)
//
// Returns:
//   - any: Cleaned copy; the input is never mutated
func DeepClean(v any) any {
	switch val := v.(type) {
	case string:
		return cleanString(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = DeepClean(elem)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[cleanString(k)] = DeepClean(val[k])
		}
		return out
	default:
		return v
	}
}

// cleanString removes ASCII control characters and trims surrounding whitespace.
func cleanString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
