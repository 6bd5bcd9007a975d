// Package ratelimit throttles noisy repeated events, typically log lines
// emitted on every dropped spot or shed client write.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Counter counts events and admits at most one "report now" signal per
// interval. Safe for concurrent use by multiple writer goroutines.
type Counter struct {
	interval time.Duration
	lastHit  atomic.Int64
	total    atomic.Uint64
}

// NewCounter returns a Counter admitting one report per interval.
// A zero or negative interval admits every event.
func NewCounter(interval time.Duration) Counter {
	return Counter{interval: interval}
}

// Inc records one event and returns the running total plus whether the
// caller should report it now.
func (c *Counter) Inc() (uint64, bool) {
	if c == nil {
		return 0, false
	}
	total := c.total.Add(1)
	if c.interval <= 0 {
		return total, true
	}
	now := time.Now().UTC().UnixNano()
	last := c.lastHit.Load()
	if now-last < c.interval.Nanoseconds() {
		return total, false
	}
	if c.lastHit.CompareAndSwap(last, now) {
		return total, true
	}
	return total, false
}
