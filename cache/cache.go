// Package cache holds the live spot table keyed by (callsign, band, mode).
// Repeated spots of the same station on the same band and mode refresh one
// entry instead of accumulating; entries older than the TTL move to a stale
// table kept around briefly so a click on a just-expired spot can still
// resolve a frequency.
package cache

import (
	"log"
	"sort"
	"sync"
	"time"

	"gtbridge/spot"
)

// Key identifies one cache entry.
type Key struct {
	DXCall string
	Band   string
	Mode   string
}

// Instance identifies one downstream receiver, one per (band, mode) pair
// that has ever held a live spot.
type Instance struct {
	Band string
	Mode string
}

// Entry is one cached spot with its lifecycle timestamps.
type Entry struct {
	Spot      *spot.Spot
	FirstSeen time.Time
	LastSeen  time.Time
}

// staleGrace is how long an evicted entry stays resolvable after it leaves
// the live table.
const staleGrace = 300 * time.Second

// Cache is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	ttl       time.Duration
	live      map[Key]*Entry
	stale     map[Key]*Entry
	bands     map[string]bool // empty means all bands pass
	modes     map[string]bool // empty means all modes pass
	instances map[Instance]bool

	now func() time.Time
}

// New builds a cache with the given TTL and optional band/mode allow lists.
// An empty list admits everything.
func New(ttl time.Duration, bands, modes []string) *Cache {
	c := &Cache{
		ttl:       ttl,
		live:      make(map[Key]*Entry),
		stale:     make(map[Key]*Entry),
		bands:     make(map[string]bool),
		modes:     make(map[string]bool),
		instances: make(map[Instance]bool),
		now:       time.Now,
	}
	for _, b := range bands {
		c.bands[spot.NormalizeBand(b)] = true
	}
	for _, m := range modes {
		c.modes[m] = true
	}
	return c
}

// Upsert inserts or refreshes the entry for s. It reports whether the spot
// was admitted past the band/mode filters, and whether it created a
// (band, mode) instance the cache had never seen before.
func (c *Cache) Upsert(s *spot.Spot) (admitted, newInstance bool) {
	if len(c.bands) > 0 && !c.bands[s.Band] {
		log.Printf("DEBUG: cache: dropping %s, band %s filtered", s.DXCall, s.Band)
		return false, false
	}
	if len(c.modes) > 0 && !c.modes[s.Mode] {
		log.Printf("DEBUG: cache: dropping %s, mode %s filtered", s.DXCall, s.Mode)
		return false, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := Key{DXCall: s.DXCall, Band: s.Band, Mode: s.Mode}
	if e, ok := c.live[key]; ok {
		// Refresh: the activity tag is sticky so a later untagged spot of
		// the same activation does not erase it.
		if s.Activity == "" {
			s.Activity = e.Spot.Activity
		}
		if s.Grid == "" {
			s.Grid = e.Spot.Grid
		}
		e.Spot = s
		e.LastSeen = now
		return true, false
	}

	delete(c.stale, key)
	c.live[key] = &Entry{Spot: s, FirstSeen: now, LastSeen: now}

	inst := Instance{Band: s.Band, Mode: s.Mode}
	if !c.instances[inst] {
		c.instances[inst] = true
		return true, true
	}
	return true, false
}

// Sweep moves entries whose age strictly exceeds the TTL into the stale
// table and drops stale entries past the grace period. Instances left with
// no live entries are forgotten, so a returning instance is announced fresh.
// It returns the number of live entries evicted.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for key, e := range c.live {
		if now.Sub(e.LastSeen) > c.ttl {
			delete(c.live, key)
			c.stale[key] = e
			evicted++
		}
	}
	for key, e := range c.stale {
		if now.Sub(e.LastSeen) > c.ttl+staleGrace {
			delete(c.stale, key)
		}
	}
	if evicted > 0 {
		remaining := make(map[Instance]bool, len(c.instances))
		for key := range c.live {
			remaining[Instance{Band: key.Band, Mode: key.Mode}] = true
		}
		c.instances = remaining
	}
	return evicted
}

// Get looks up a key in the live table first, then the stale table.
func (c *Cache) Get(key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.live[key]; ok {
		return e, true
	}
	if e, ok := c.stale[key]; ok {
		return e, true
	}
	return nil, false
}

// Find returns the live or stale entry for a callsign on a band, trying the
// given mode first and falling back to any mode on that band.
func (c *Cache) Find(dxCall, band, mode string) (*Entry, bool) {
	if e, ok := c.Get(Key{DXCall: dxCall, Band: band, Mode: mode}); ok {
		return e, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.live {
		if key.DXCall == dxCall && key.Band == band {
			return e, true
		}
	}
	for key, e := range c.stale {
		if key.DXCall == dxCall && key.Band == band {
			return e, true
		}
	}
	return nil, false
}

// SnapshotByInstance groups the live entries by (band, mode), each group
// ordered oldest first so downstream emission is stable. Entries are copied
// so the caller reads a fixed point-in-time view while upserts continue.
func (c *Cache) SnapshotByInstance() map[Instance][]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Instance][]Entry)
	for key, e := range c.live {
		inst := Instance{Band: key.Band, Mode: key.Mode}
		out[inst] = append(out[inst], *e)
	}
	for _, entries := range out {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].LastSeen.Before(entries[j].LastSeen)
		})
	}
	return out
}

// Instances returns every (band, mode) pair that currently backs an
// announced downstream receiver.
func (c *Cache) Instances() []Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Instance, 0, len(c.instances))
	for inst := range c.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Band != out[j].Band {
			return out[i].Band < out[j].Band
		}
		return out[i].Mode < out[j].Mode
	})
	return out
}

// Len returns the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// StaleLen returns the stale entry count.
func (c *Cache) StaleLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stale)
}
