package spot

// Mode inference from frequency, used when a spot carries no explicit mode tag.
//
// Resolution order, first match wins:
//  1. FT8/FT4 dial windows (band-keyed, region-independent): a frequency within
//     digitalTolerance of a standard dial infers that digital mode; when both a
//     FT8 and a FT4 dial are in range, the nearer dial wins, FT8 on a tie.
//  2. The configured ITU region's band plan: CW sub-band or SSB/phone sub-band.
//  3. Any other frequency inside a tracked amateur band defaults to SSB so
//     untagged spots still pass through the mode filter; the operator can
//     identify the actual mode on their radio.
//
// Outside every tracked band the result is ModeUnknown, never an error.

// ModeUnknown is the sentinel returned when a frequency falls outside every
// tracked amateur band.
const ModeUnknown = "unknown"

// digitalTolerance is the half-width of an FT8/FT4 dial window in kHz.
const digitalTolerance = 3.0

// Standard FT8 dial frequencies (kHz).
var ft8Dials = []float64{1840, 3573, 5357, 7074, 10136, 14074, 18100, 21074, 24915, 28074, 50313}

// Standard FT4 dial frequencies (kHz).
var ft4Dials = []float64{3575.5, 7047.5, 10140, 14080, 18104, 21140, 24919, 28180, 50318}

// subBand is one band-plan row: a frequency range conventionally used by a mode.
type subBand struct {
	Low  float64 // low edge in kHz, inclusive
	High float64 // high edge in kHz, inclusive
	Mode string  // "CW" or "SSB"
}

// Band plan sub-band allocations per ITU region. Only CW and SSB rows are
// carried: FT8/FT4 windows are resolved first (step 1), and everything
// between the CW and SSB sub-bands falls through to the SSB default, so the
// plan does not need to carve around every digital segment.
var bandPlans = map[int][]subBand{
	1: { // Region 1: Europe, Africa, Middle East (IARU R1)
		{1810, 1838, "CW"},
		{1843, 2000, "SSB"},
		{3500, 3570, "CW"},
		{3600, 3800, "SSB"},
		{5330, 5410, "SSB"}, // 60m channelized USB
		{7000, 7040, "CW"},
		{7060, 7200, "SSB"},
		{10100, 10130, "CW"}, // 30m is CW/digital only, no phone
		{14000, 14070, "CW"},
		{14112, 14350, "SSB"},
		{18068, 18095, "CW"},
		{18111, 18168, "SSB"},
		{21000, 21070, "CW"},
		{21151, 21450, "SSB"},
		{24890, 24915, "CW"},
		{24931, 24990, "SSB"},
		{28000, 28070, "CW"},
		{28300, 29700, "SSB"},
		{50000, 50100, "CW"},
		{50400, 52000, "SSB"},
	},
	2: { // Region 2: Americas (ARRL band plan)
		{1800, 1840, "CW"},
		{1850, 2000, "SSB"},
		{3500, 3570, "CW"},
		{3600, 4000, "SSB"},
		{5330, 5410, "SSB"},
		{7000, 7070, "CW"},
		{7125, 7300, "SSB"},
		{10100, 10130, "CW"},
		{14000, 14070, "CW"},
		{14150, 14350, "SSB"},
		{18068, 18100, "CW"},
		{18110, 18168, "SSB"},
		{21000, 21070, "CW"},
		{21150, 21450, "SSB"},
		{24890, 24920, "CW"},
		{24930, 24990, "SSB"},
		{28000, 28070, "CW"},
		{28300, 29700, "SSB"},
		{50000, 50100, "CW"},
		{50400, 54000, "SSB"},
	},
	3: { // Region 3: Asia-Pacific (IARU R3)
		{1800, 1838, "CW"},
		{1843, 2000, "SSB"},
		{3500, 3570, "CW"},
		{3600, 3900, "SSB"},
		{5330, 5410, "SSB"},
		{7000, 7040, "CW"},
		{7060, 7300, "SSB"},
		{10100, 10130, "CW"},
		{14000, 14070, "CW"},
		{14112, 14350, "SSB"},
		{18068, 18095, "CW"},
		{18110, 18168, "SSB"},
		{21000, 21070, "CW"},
		{21150, 21450, "SSB"},
		{24890, 24920, "CW"},
		{24930, 24990, "SSB"},
		{28000, 28070, "CW"},
		{28300, 29700, "SSB"},
		{50000, 50100, "CW"},
		{50400, 54000, "SSB"},
	},
}

// nearestDial returns the minimum distance from freq to any dial in the list.
func nearestDial(freq float64, dials []float64) float64 {
	best := -1.0
	for _, dial := range dials {
		d := freq - dial
		if d < 0 {
			d = -d
		}
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

// InferMode infers the operating mode for a frequency in kHz within the given
// ITU region. The function is pure and total: it returns exactly one of
// "FT8", "FT4", "CW", "SSB", or ModeUnknown for every input. Unknown regions
// fall back to the Region 2 plan.
func InferMode(region int, freqKHz float64) string {
	ft8Dist := nearestDial(freqKHz, ft8Dials)
	ft4Dist := nearestDial(freqKHz, ft4Dials)
	if ft8Dist <= digitalTolerance || ft4Dist <= digitalTolerance {
		if ft4Dist < ft8Dist {
			return "FT4"
		}
		return "FT8"
	}

	plan, ok := bandPlans[region]
	if !ok {
		plan = bandPlans[2]
	}
	for _, sb := range plan {
		if freqKHz >= sb.Low && freqKHz <= sb.High {
			return sb.Mode
		}
	}

	// Gray area: inside an amateur band but between the CW and SSB sub-bands.
	if FreqToBand(freqKHz) != "" {
		return "SSB"
	}
	return ModeUnknown
}
