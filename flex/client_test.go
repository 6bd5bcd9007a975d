package flex

import (
	"testing"

	"gtbridge/spot"
)

func TestParseSliceStatus(t *testing.T) {
	idx, kv, ok := parseSliceStatus("S40000001|slice 0 in_use=1 RF_frequency=14.074000 mode=DIGU")
	if !ok {
		t.Fatal("expected slice status to parse")
	}
	if idx != 0 {
		t.Errorf("index = %d, want 0", idx)
	}
	if kv["RF_frequency"] != "14.074000" {
		t.Errorf("RF_frequency = %q", kv["RF_frequency"])
	}
	if kv["mode"] != "DIGU" {
		t.Errorf("mode = %q", kv["mode"])
	}

	if _, _, ok := parseSliceStatus("S40000001|radio slices=4"); ok {
		t.Error("non-slice status should not parse")
	}
	if _, _, ok := parseSliceStatus("garbage"); ok {
		t.Error("garbage should not parse")
	}
}

func TestParseReply(t *testing.T) {
	code, msg, ok := parseReply("R3|50000015|incorrect number of parameters")
	if !ok {
		t.Fatal("expected reply to parse")
	}
	if code != 0x50000015 {
		t.Errorf("code = %#x, want 0x50000015", code)
	}
	if msg != "incorrect number of parameters" {
		t.Errorf("msg = %q", msg)
	}

	code, _, ok = parseReply("R1|0|")
	if !ok || code != 0 {
		t.Errorf("success reply: code = %d, ok = %v", code, ok)
	}

	if _, _, ok := parseReply("R1|zz|whatever"); ok {
		t.Error("non-hex code should not parse")
	}
}

func TestApplySliceStatusRemoval(t *testing.T) {
	c := NewClient("localhost", 4992, -1)
	c.applySliceStatus(0, map[string]string{"in_use": "1", "RF_frequency": "14.074000", "mode": "DIGU"})
	c.applySliceStatus(0, map[string]string{"mode": "CW"})
	if c.slices[0]["RF_frequency"] != "14.074000" {
		t.Error("partial update should preserve other keys")
	}
	if c.slices[0]["mode"] != "CW" {
		t.Error("partial update should apply new keys")
	}
	c.applySliceStatus(0, map[string]string{"in_use": "0"})
	if _, ok := c.slices[0]; ok {
		t.Error("in_use=0 should remove the slice")
	}
}

func TestFindSlice(t *testing.T) {
	c := NewClient("localhost", 4992, -1)
	c.applySliceStatus(0, map[string]string{"in_use": "1", "RF_frequency": "14.074000", "mode": "DIGU"})
	c.applySliceStatus(1, map[string]string{"in_use": "1", "RF_frequency": "7.030000", "mode": "CW"})

	idx, ok := c.findSlice("20m", "FT8")
	if !ok || idx != 0 {
		t.Errorf("FT8 on 20m: got (%d, %v), want (0, true)", idx, ok)
	}
	idx, ok = c.findSlice("40m", "CW")
	if !ok || idx != 1 {
		t.Errorf("CW on 40m: got (%d, %v), want (1, true)", idx, ok)
	}
	if _, ok := c.findSlice("40m", "SSB"); ok {
		t.Error("no slice is in a phone mode on 40m")
	}
	if _, ok := c.findSlice("15m", "CW"); ok {
		t.Error("no slice is on 15m")
	}
}

func TestSDRMode(t *testing.T) {
	tests := []struct {
		mode string
		freq float64
		want string
	}{
		{"CW", 7030, "CW"},
		{"RTTY", 14080, "RTTY"},
		{"FT8", 14074, "DIGU"},
		{"FT4", 7047.5, "DIGU"},
		{"DATA", 14070, "DIGU"},
		{"SSB", 3790, "LSB"},
		{"SSB", 7180, "LSB"},
		{"SSB", 5357, "USB"},
		{"SSB", 14250, "USB"},
		{"SSB", 28400, "USB"},
		{"unknown", 14200, "USB"},
	}
	for _, tt := range tests {
		if got := sdrMode(tt.mode, tt.freq); got != tt.want {
			t.Errorf("sdrMode(%q, %.1f) = %q, want %q", tt.mode, tt.freq, got, tt.want)
		}
	}
}

func TestTuneNotConnected(t *testing.T) {
	c := NewClient("localhost", 4992, 0)
	s := &spot.Spot{DXCall: "K1ABC", Frequency: 14074, Band: "20m", Mode: "FT8"}
	if err := c.Tune(s); err == nil {
		t.Error("expected error when not connected")
	}
}
