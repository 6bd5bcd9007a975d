package dedup

import (
	"fmt"
	"testing"
	"time"

	"gtbridge/spot"
)

func testSpot(dxCall string, freq float64) *spot.Spot {
	return &spot.Spot{
		DXCall:    dxCall,
		Spotter:   "W3LPL",
		Frequency: freq,
		Band:      "20m",
		Mode:      "FT8",
	}
}

func TestIsDuplicateWithinWindow(t *testing.T) {
	d := New(30 * time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	s := testSpot("JA1ABC", 14074.0)
	if d.IsDuplicate(s) {
		t.Fatal("first sighting flagged as duplicate")
	}
	if !d.IsDuplicate(s) {
		t.Fatal("repeat within window not flagged")
	}

	now = now.Add(31 * time.Second)
	if d.IsDuplicate(s) {
		t.Fatal("repeat after window still flagged")
	}
}

func TestDistinctSpotsPass(t *testing.T) {
	d := New(30 * time.Second)
	d.IsDuplicate(testSpot("JA1ABC", 14074.0))

	if d.IsDuplicate(testSpot("OH2BH", 14074.0)) {
		t.Error("different callsign flagged as duplicate")
	}
	if d.IsDuplicate(testSpot("JA1ABC", 14075.0)) {
		t.Error("different frequency flagged as duplicate")
	}

	other := testSpot("JA1ABC", 14074.0)
	other.Spotter = "K1TTT"
	if d.IsDuplicate(other) {
		t.Error("different spotter flagged as duplicate")
	}
}

func TestFrequencyJitterBelowResolution(t *testing.T) {
	d := New(30 * time.Second)
	d.IsDuplicate(testSpot("JA1ABC", 14074.01))
	if !d.IsDuplicate(testSpot("JA1ABC", 14074.04)) {
		t.Error("sub-100Hz jitter defeated suppression")
	}
}

func TestZeroWindowDisables(t *testing.T) {
	d := New(0)
	s := testSpot("JA1ABC", 14074.0)
	for i := 0; i < 3; i++ {
		if d.IsDuplicate(s) {
			t.Fatal("zero window flagged a duplicate")
		}
	}
}

func TestCleanupBoundsCache(t *testing.T) {
	d := New(30 * time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		d.IsDuplicate(testSpot(fmt.Sprintf("N%dXX", i), 14074.0))
	}
	_, _, size := d.Stats()
	if size != 100 {
		t.Fatalf("cache size = %d, want 100", size)
	}

	now = now.Add(time.Minute)
	d.cleanup()
	if _, _, size := d.Stats(); size != 0 {
		t.Errorf("cache size after cleanup = %d, want 0", size)
	}
}

func TestStatsCounts(t *testing.T) {
	d := New(30 * time.Second)
	s := testSpot("JA1ABC", 14074.0)
	d.IsDuplicate(s)
	d.IsDuplicate(s)
	d.IsDuplicate(testSpot("OH2BH", 7074.0))

	processed, duplicates, _ := d.Stats()
	if processed != 3 || duplicates != 1 {
		t.Errorf("Stats = %d processed, %d duplicates; want 3, 1", processed, duplicates)
	}
}
