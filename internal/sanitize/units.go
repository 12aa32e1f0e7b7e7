package sanitize

import (
	"regexp"
	"strings"
)

// unitTable maps raw Home Assistant unit_of_measurement strings to their
// canonical symbol. Unmapped units pass through and are sanitized as-is.
var unitTable = map[string]string{
	"°C":  "C",
	"°F":  "F",
	"V":   "V",
	"A":   "A",
	"W":   "W",
	"%":   "pct",
	"hPa": "hPa",
}

// unsafeRuns matches every run of characters disallowed in topic and metric
// name fragments.
var unsafeRuns = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// NormalizeUnit converts a raw measurement unit into a safe topic/key
// fragment.
//
// The raw unit is first looked up in the canonicalization table (°C → "C",
// "%" → "pct", etc.), then every run of characters outside [A-Za-z0-9] is
// collapsed to a single underscore and leading/trailing underscores are
// trimmed.
//
// Returns "" for empty input, and "" when nothing survives sanitization.
func NormalizeUnit(raw string) string {
	if raw == "" {
		return ""
	}

	if canonical, ok := unitTable[raw]; ok {
		raw = canonical
	}

	raw = unsafeRuns.ReplaceAllString(raw, "_")
	return strings.Trim(raw, "_")
}
