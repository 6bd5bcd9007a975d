// Package stats tracks per-source and per-mode spot counters plus bridge
// throughput metrics for periodic console output.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"gtbridge/strutil"
)

// Tracker tracks spot statistics by source
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-spot increments don't fight over a mutex
	modeCounts       sync.Map // string -> *atomic.Uint64
	sourceCounts     sync.Map // string -> *atomic.Uint64
	sourceModeCounts sync.Map // "source|mode" -> *atomic.Uint64
	start            atomic.Int64
	emitted          atomic.Uint64
	duplicates       atomic.Uint64
	filtered         atomic.Uint64
	gridLookups      atomic.Uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementMode increases the count for a mode (FT8, CW, SSB, etc.)
func (t *Tracker) IncrementMode(mode string) {
	incrementCounter(&t.modeCounts, mode)
}

// IncrementSource increases the count for a source feed (CLUSTER, POTA, SOTA, PSKREPORTER)
func (t *Tracker) IncrementSource(source string) {
	incrementCounter(&t.sourceCounts, source)
}

// IncrementSourceMode increases the count for a specific source/mode combination.
func (t *Tracker) IncrementSourceMode(source, mode string) {
	source = strutil.NormalizeUpper(source)
	mode = strutil.NormalizeUpper(mode)
	if source == "" || mode == "" {
		return
	}
	key := source + "|" + mode
	incrementCounter(&t.sourceModeCounts, key)
}

// IncrementEmitted increments the number of decodes sent to GridTracker.
func (t *Tracker) IncrementEmitted() {
	t.emitted.Add(1)
}

// IncrementDuplicates increments the number of spots dropped as duplicates.
func (t *Tracker) IncrementDuplicates() {
	t.duplicates.Add(1)
}

// IncrementFiltered increments the number of spots rejected by band/mode filters.
func (t *Tracker) IncrementFiltered() {
	t.filtered.Add(1)
}

// IncrementGridLookups increments the number of QRZ grid lookups performed.
func (t *Tracker) IncrementGridLookups() {
	t.gridLookups.Add(1)
}

// GetModeCounts returns a copy of mode counts
func (t *Tracker) GetModeCounts() map[string]uint64 {
	counts := make(map[string]uint64)
	t.modeCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// GetSourceCounts returns a copy of source feed counts
func (t *Tracker) GetSourceCounts() map[string]uint64 {
	counts := make(map[string]uint64)
	t.sourceCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// GetSourceModeCounts returns a copy of source/mode combination counts.
func (t *Tracker) GetSourceModeCounts() map[string]uint64 {
	counts := make(map[string]uint64)
	t.sourceModeCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// GetTotal returns the total count across all sources (sum of sourceCounts)
func (t *Tracker) GetTotal() uint64 {
	var total uint64
	t.sourceCounts.Range(func(_, value any) bool {
		total += value.(*atomic.Uint64).Load()
		return true
	})
	return total
}

// Emitted returns the cumulative number of decodes sent to GridTracker.
func (t *Tracker) Emitted() uint64 {
	return t.emitted.Load()
}

// Duplicates returns the cumulative number of duplicate spots dropped.
func (t *Tracker) Duplicates() uint64 {
	return t.duplicates.Load()
}

// Filtered returns the cumulative number of filtered spots.
func (t *Tracker) Filtered() uint64 {
	return t.filtered.Load()
}

// GridLookups returns the cumulative number of QRZ grid lookups.
func (t *Tracker) GridLookups() uint64 {
	return t.gridLookups.Load()
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// Reset resets all counters
func (t *Tracker) Reset() {
	t.modeCounts.Range(func(key, _ any) bool {
		t.modeCounts.Delete(key)
		return true
	})
	t.sourceCounts.Range(func(key, _ any) bool {
		t.sourceCounts.Delete(key)
		return true
	})
	t.sourceModeCounts.Range(func(key, _ any) bool {
		t.sourceModeCounts.Delete(key)
		return true
	})
	t.emitted.Store(0)
	t.duplicates.Store(0)
	t.filtered.Store(0)
	t.gridLookups.Store(0)
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	lines := make([]string, 0, 3)
	lines = append(lines, fmt.Sprintf("Uptime %s: %s spots in, %s emitted, %s dup, %s filtered",
		t.GetUptime().Round(time.Second),
		humanize.Comma(int64(t.GetTotal())),
		humanize.Comma(int64(t.Emitted())),
		humanize.Comma(int64(t.Duplicates())),
		humanize.Comma(int64(t.Filtered()))))
	lines = append(lines, formatMapCounts("Spots by source", &t.sourceCounts))
	lines = append(lines, formatMapCounts("Spots by mode", &t.modeCounts))
	return lines
}

func formatMapCounts(label string, counts *sync.Map) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	first := true
	counts.Range(func(key, value any) bool {
		if !first {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", key.(string), value.(*atomic.Uint64).Load())
		first = false
		return true
	})
	if first {
		builder.WriteString("(none)")
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
