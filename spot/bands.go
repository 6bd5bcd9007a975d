package spot

import "strings"

// BandInfo describes an amateur radio band by name and frequency range in kHz.
type BandInfo struct {
	Name string  // canonical band name (e.g., "20m")
	Min  float64 // minimum frequency in kHz
	Max  float64 // maximum frequency in kHz
}

var bandTable = []BandInfo{
	{Name: "160m", Min: 1800, Max: 2000},
	{Name: "80m", Min: 3500, Max: 4000},
	{Name: "60m", Min: 5330, Max: 5410},
	{Name: "40m", Min: 7000, Max: 7300},
	{Name: "30m", Min: 10100, Max: 10150},
	{Name: "20m", Min: 14000, Max: 14350},
	{Name: "17m", Min: 18068, Max: 18168},
	{Name: "15m", Min: 21000, Max: 21450},
	{Name: "12m", Min: 24890, Max: 24990},
	{Name: "10m", Min: 28000, Max: 29700},
	{Name: "6m", Min: 50000, Max: 54000},
	{Name: "2m", Min: 144000, Max: 148000},
	{Name: "70cm", Min: 420000, Max: 450000},
}

var bandLookup = func() map[string]BandInfo {
	m := make(map[string]BandInfo, len(bandTable))
	for _, entry := range bandTable {
		m[NormalizeBand(entry.Name)] = entry
	}
	return m
}()

// FreqToBand converts a frequency in kHz to a band name. Returns "" when the
// frequency falls outside every tracked band.
func FreqToBand(freq float64) string {
	for _, band := range bandTable {
		if freq >= band.Min && freq <= band.Max {
			return band.Name
		}
	}
	return ""
}

// NormalizeBand returns the canonical lowercase band identifier for the given
// label. It removes whitespace, converts meter words to units, and appends "m"
// when the value looks like a bare number. The result is suitable for map lookups.
func NormalizeBand(label string) string {
	cleaned := strings.ToLower(strings.TrimSpace(label))
	if cleaned == "" {
		return ""
	}

	replacementPairs := []struct{ old, new string }{
		{"meters", "m"},
		{"meter", "m"},
		{"metres", "m"},
		{"metre", "m"},
		{"centimeters", "cm"},
		{"centimetres", "cm"},
	}
	for _, pair := range replacementPairs {
		cleaned = strings.ReplaceAll(cleaned, pair.old, pair.new)
	}

	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return ""
	}

	last := cleaned[len(cleaned)-1]
	if last >= '0' && last <= '9' {
		cleaned += "m"
	}

	return cleaned
}

// IsValidBand returns true if the provided label corresponds to a known band.
func IsValidBand(label string) bool {
	normalized := NormalizeBand(label)
	if normalized == "" {
		return false
	}
	_, ok := bandLookup[normalized]
	return ok
}

// SupportedBandNames returns the canonical names of all tracked bands.
func SupportedBandNames() []string {
	names := make([]string, len(bandTable))
	for i, entry := range bandTable {
		names[i] = entry.Name
	}
	return names
}

// FrequencyBounds returns the minimum and maximum frequencies covered by the band table.
func FrequencyBounds() (min, max float64) {
	if len(bandTable) == 0 {
		return 0, 0
	}
	min = bandTable[0].Min
	max = bandTable[len(bandTable)-1].Max
	return
}
