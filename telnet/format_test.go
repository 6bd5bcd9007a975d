package telnet

import (
	"strings"
	"testing"
	"time"

	"gtbridge/spot"
)

func TestFormatLegacy(t *testing.T) {
	s := &spot.Spot{
		Spotter:   "W3LPL",
		Frequency: 14074.0,
		DXCall:    "JA1ABC",
		Comment:   "FT8 -12 dB",
		TimeUTC:   "1234",
	}
	got := FormatLegacy(s)
	// Fixed columns: spotter with colon padded to 8, frequency right
	// aligned in 10, callsign in 12, comment in 28, then the timestamp.
	want := "DX de " + "W3LPL:  " + " " + "   14074.0" + "  " +
		"JA1ABC      " + " " + "FT8 -12 dB" + strings.Repeat(" ", 18) + "1234Z"
	if got != want {
		t.Errorf("FormatLegacy:\n got %q\nwant %q", got, want)
	}
}

func TestFormatLegacyTruncation(t *testing.T) {
	s := &spot.Spot{
		Spotter:   "VERYLONGSPOTTER",
		Frequency: 7003.2,
		DXCall:    "LONGCALLSIGN99",
		Comment:   "this comment is far longer than the column allows",
		TimeUTC:   "0001",
	}
	got := FormatLegacy(s)
	if len(got) != len(FormatLegacy(&spot.Spot{Spotter: "A", Frequency: 1, DXCall: "B", Comment: "", TimeUTC: "0001"})) {
		t.Errorf("columns not fixed width: %q", got)
	}
	if want := "DX de VERYLONG"; got[:len(want)] != want {
		t.Errorf("spotter field = %q", got[:14])
	}
}

func TestFormatCC11(t *testing.T) {
	s := &spot.Spot{
		Spotter:   "W3LPL",
		Frequency: 14074.0,
		DXCall:    "JA1ABC",
		Comment:   "FT8 -12 dB",
		TimeUTC:   "1234",
		Grid:      "PM95",
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got := FormatCC11(s, now)
	want := "CC11^14074.0^JA1ABC^01-Jun-2025^1234Z^FT8 -12 dB^W3LPL^PM95^^0^"
	if got != want {
		t.Errorf("FormatCC11:\n got %q\nwant %q", got, want)
	}
}

func TestFormatCC11EmptyGrid(t *testing.T) {
	s := &spot.Spot{Spotter: "K1TTT", Frequency: 7025.0, DXCall: "OH2BH", TimeUTC: "0900"}
	now := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	got := FormatCC11(s, now)
	want := "CC11^7025.0^OH2BH^31-Dec-2025^0900Z^^K1TTT^^^0^"
	if got != want {
		t.Errorf("FormatCC11:\n got %q\nwant %q", got, want)
	}
}
