// Package strutil holds small string normalizers shared across the bridge.
package strutil

import "strings"

// NormalizeUpper trims surrounding whitespace and upper-cases the value.
// Callsigns, modes and source names compare case-insensitively everywhere in
// the pipeline, so counters and map keys go through this first.
func NormalizeUpper(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// NormalizeLower trims surrounding whitespace and lower-cases the value.
// Used for config tokens like log levels.
func NormalizeLower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
