package spot

import (
	"regexp"
	"strconv"
	"strings"
)

// Parsing of raw DX cluster spot lines into Spot values.
//
// Cluster software is inconsistent: some nodes pad with ANSI color codes,
// some embed control characters, comment fields are free text. The parser
// scrubs first, then matches the canonical layout:
//
//	DX de SPOTTER:    14074.0  DXCALL       comment text            1234Z
//
// Lines that do not match are not errors, they are simply not spots (prompts,
// WWV announcements, talk messages) and the caller skips them.

var (
	spotRe = regexp.MustCompile(`(?i)^DX\s+de\s+([A-Z0-9/\-#]+):\s+([\d.]+)\s+([A-Z0-9/]+)\s+(.*?)\s+(\d{4})Z\s*$`)

	ansiRe    = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	controlRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

	snrRe = regexp.MustCompile(`(?i)([+-]?\d{1,3})\s*dB`)

	// Maidenhead locator, 4 or 6 characters. Case-sensitive on purpose:
	// real locators in comments are written AB12 or AB12cd, and a loose
	// match would swallow ordinary words.
	gridRe = regexp.MustCompile(`\b([A-R]{2}\d{2}(?:[a-x]{2})?)\b`)
)

// modeTag is one recognizable mode keyword in a spot comment. Tags are
// checked in order; the first hit wins, so the specific digital modes come
// before the generic ones.
type modeTag struct {
	re   *regexp.Regexp
	mode string
}

var modeTags = []modeTag{
	{regexp.MustCompile(`(?i)\bFT8\b`), "FT8"},
	{regexp.MustCompile(`(?i)\bFT4\b`), "FT4"},
	{regexp.MustCompile(`(?i)\bCW\b`), "CW"},
	{regexp.MustCompile(`(?i)\b(SSB|USB|LSB)\b`), "SSB"},
	{regexp.MustCompile(`(?i)\bRTTY\b`), "RTTY"},
	{regexp.MustCompile(`(?i)\b(PSK\d*|JS8|MSK144|JT65|JT9)\b`), "DATA"},
}

var activityTags = []string{"POTA", "SOTA", "WWFF", "IOTA"}

// ScrubLine strips ANSI escape sequences and non-printing control characters
// from a raw cluster line and trims surrounding whitespace.
func ScrubLine(line string) string {
	line = ansiRe.ReplaceAllString(line, "")
	line = controlRe.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

// ParseClusterLine parses one scrubbed cluster line. The second return value
// is false when the line is not a DX spot at all. A matched spot always has
// a normalized callsign and spotter, a frequency in kHz, a band, and a mode
// (explicit from the comment, or inferred from frequency for the region).
func ParseClusterLine(line string, region int) (*Spot, bool) {
	m := spotRe.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	freq, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, false
	}

	s := &Spot{
		Spotter:   NormalizeCallsign(m[1]),
		Frequency: freq,
		DXCall:    NormalizeCallsign(m[3]),
		Comment:   strings.TrimSpace(m[4]),
		TimeUTC:   m[5],
		Source:    SourceCluster,
	}
	s.Band = FreqToBand(freq)

	ExtractCommentFields(s)
	if s.Mode == "" {
		s.Mode = InferMode(region, freq)
	}
	return s, true
}

// ExtractCommentFields pulls the explicit mode tag, SNR report, grid locator
// and activity keyword out of the comment, leaving the comment itself intact.
func ExtractCommentFields(s *Spot) {
	for _, t := range modeTags {
		if t.re.MatchString(s.Comment) {
			s.Mode = t.mode
			break
		}
	}
	if m := snrRe.FindStringSubmatch(s.Comment); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			s.Report = v
			s.HasReport = true
		}
	}
	if m := gridRe.FindStringSubmatch(s.Comment); m != nil {
		s.Grid = m[1]
	}
	upper := strings.ToUpper(s.Comment)
	for _, tag := range activityTags {
		if strings.Contains(upper, tag) {
			s.Activity = tag
			break
		}
	}
}
