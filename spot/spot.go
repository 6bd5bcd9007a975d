// Package spot defines the canonical spot structure flowing through the whole
// bridge pipeline: parsing from cluster lines, band mapping, mode inference,
// and basic validation.
package spot

import (
	"fmt"
	"strings"
)

// Source identifies where a spot came from.
type Source string

const (
	SourceCluster     Source = "CLUSTER"     // Upstream DX cluster telnet feed
	SourceRelay       Source = "RELAY"       // Re-ingested from another bridge node
	SourcePOTA        Source = "POTA"        // Parks on the Air API
	SourceSOTA        Source = "SOTA"        // Summits on the Air API
	SourcePSKReporter Source = "PSKREPORTER" // PSKReporter via MQTT
)

// Spot represents a DX spot in canonical form.
type Spot struct {
	DXCall     string  // Station being spotted (e.g., "JA1ABC")
	Spotter    string  // Station reporting the spot (e.g., "W1AW")
	Frequency  float64 // Frequency in kHz (e.g., 14074.0)
	Band       string  // Band (e.g., "20m"); always derivable from Frequency
	Mode       string  // Mode (e.g., "CW", "SSB", "FT8"); explicit or inferred
	Report     int     // SNR in dB; meaningful only when HasReport is true
	HasReport  bool    // Whether Report is present (distinguishes real 0 dB from "unknown")
	Grid       string  // Maidenhead locator (4 or 6 chars) when known
	Comment    string  // Free-text comment from the source
	TimeUTC    string  // Spot time as "HHMM" (UTC)
	Activity   string  // Activity tag ("POTA", "SOTA") for program spots
	Source     Source  // Provenance, used for grid-lookup and message policy
	SourceNode string  // Friendly name of the originating cluster/poller
}

// FreqHz returns the spot frequency in whole Hz.
func (s *Spot) FreqHz() int64 {
	return int64(s.Frequency * 1000)
}

// IsValid performs basic validation on the spot.
func (s *Spot) IsValid() bool {
	if s.DXCall == "" {
		return false
	}
	minFreq, maxFreq := FrequencyBounds()
	if s.Frequency < minFreq || s.Frequency > maxFreq {
		return false
	}
	return true
}

// String returns a human-readable representation for logging.
func (s *Spot) String() string {
	mode := s.Mode
	if mode == "" {
		mode = "??"
	}
	return fmt.Sprintf("%s  %.1f kHz  %s  [%s]  by %s",
		s.DXCall, s.Frequency, mode, s.Band, s.Spotter)
}

// NormalizeCallsign uppercases the string and trims whitespace and trailing slashes.
func NormalizeCallsign(call string) string {
	normalized := strings.ToUpper(strings.TrimSpace(call))
	normalized = strings.TrimSuffix(normalized, "/")
	return normalized
}
