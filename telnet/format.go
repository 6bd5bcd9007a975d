package telnet

import (
	"fmt"
	"time"

	"gtbridge/spot"
)

// Downstream wire formats. Clients get the classic DX Spider spot layout by
// default; SET/VE7CC switches a session to the machine readable CC11 records
// that CC User and GridTracker's cluster input parse.

// FormatLegacy renders a spot in the fixed-column DX Spider layout. The
// spotter keeps its trailing colon inside the 8-character field, matching
// what real nodes emit.
func FormatLegacy(s *spot.Spot) string {
	spotter := s.Spotter + ":"
	if len(spotter) > 8 {
		spotter = spotter[:8]
	}
	dxCall := s.DXCall
	if len(dxCall) > 12 {
		dxCall = dxCall[:12]
	}
	comment := s.Comment
	if len(comment) > 28 {
		comment = comment[:28]
	}
	return fmt.Sprintf("DX de %-8s %10.1f  %-12s %-28s%sZ", spotter, s.Frequency, dxCall, comment, s.TimeUTC)
}

// FormatCC11 renders a spot as a VE7CC CC11 record. The date field carries
// the current UTC date since cluster spots only have an HHMM timestamp.
func FormatCC11(s *spot.Spot, now time.Time) string {
	return fmt.Sprintf("CC11^%.1f^%s^%s^%sZ^%s^%s^%s^^0^",
		s.Frequency,
		s.DXCall,
		now.UTC().Format("02-Jan-2006"),
		s.TimeUTC,
		s.Comment,
		s.Spotter,
		s.Grid,
	)
}
