package stats

import (
	"strings"
	"testing"
)

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()
	tr.IncrementSource("CLUSTER")
	tr.IncrementSource("CLUSTER")
	tr.IncrementSource("POTA")
	tr.IncrementMode("FT8")
	tr.IncrementMode("CW")
	tr.IncrementMode("CW")
	tr.IncrementSourceMode("cluster", "ft8")

	if got := tr.GetTotal(); got != 3 {
		t.Errorf("GetTotal() = %d, want 3", got)
	}
	if got := tr.GetSourceCounts()["CLUSTER"]; got != 2 {
		t.Errorf("CLUSTER count = %d, want 2", got)
	}
	if got := tr.GetModeCounts()["CW"]; got != 2 {
		t.Errorf("CW count = %d, want 2", got)
	}
	if got := tr.GetSourceModeCounts()["CLUSTER|FT8"]; got != 1 {
		t.Errorf("CLUSTER|FT8 count = %d, want 1", got)
	}
}

func TestTrackerIgnoresBlankKeys(t *testing.T) {
	tr := NewTracker()
	tr.IncrementSource("  ")
	tr.IncrementMode("")
	tr.IncrementSourceMode("CLUSTER", "")
	if got := tr.GetTotal(); got != 0 {
		t.Errorf("GetTotal() = %d, want 0", got)
	}
	if len(tr.GetSourceModeCounts()) != 0 {
		t.Error("blank mode should not create a source/mode counter")
	}
}

func TestTrackerBridgeCounters(t *testing.T) {
	tr := NewTracker()
	tr.IncrementEmitted()
	tr.IncrementEmitted()
	tr.IncrementDuplicates()
	tr.IncrementFiltered()
	tr.IncrementGridLookups()

	if tr.Emitted() != 2 {
		t.Errorf("Emitted() = %d, want 2", tr.Emitted())
	}
	if tr.Duplicates() != 1 || tr.Filtered() != 1 || tr.GridLookups() != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1",
			tr.Duplicates(), tr.Filtered(), tr.GridLookups())
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.IncrementSource("CLUSTER")
	tr.IncrementEmitted()
	tr.Reset()
	if tr.GetTotal() != 0 || tr.Emitted() != 0 {
		t.Error("Reset should clear all counters")
	}
}

func TestSnapshotLines(t *testing.T) {
	tr := NewTracker()
	lines := tr.SnapshotLines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "(none)") {
		t.Errorf("empty source line = %q", lines[1])
	}

	tr.IncrementSource("POTA")
	lines = tr.SnapshotLines()
	if !strings.Contains(lines[1], "POTA=1") {
		t.Errorf("source line = %q", lines[1])
	}
}
