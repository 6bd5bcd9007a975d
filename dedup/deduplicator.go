// Package dedup implements a shard-locked deduplication cache that suppresses
// identical spots within a configurable time window. Every ingest source runs
// through this component before the spot reaches the cache and the downstream
// feeds.
package dedup

import (
	"encoding/binary"
	"log"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"gtbridge/spot"
)

// Deduplicator drops repeats of the same spot seen within the window. A zero
// or negative window disables suppression while keeping the pipeline topology
// intact.
type Deduplicator struct {
	window          time.Duration
	shards          []cacheShard
	shutdown        chan struct{}
	stopOnce        sync.Once
	cleanupInterval time.Duration

	now func() time.Time
}

// cacheShard keeps a portion of the dedup cache guarded by its own lock.
// Sharding the map eliminates the single global mutex on the hot path.
type cacheShard struct {
	mu             sync.Mutex
	cache          map[uint32]time.Time
	processedCount uint64
	duplicateCount uint64
}

// shardCount must remain a power of two so we can use bit masking for fast shard selection.
const shardCount = 64

// New creates a deduplicator with the given suppression window.
func New(window time.Duration) *Deduplicator {
	shards := make([]cacheShard, shardCount)
	for i := range shards {
		shards[i].cache = make(map[uint32]time.Time)
	}
	return &Deduplicator{
		window:          window,
		shards:          shards,
		shutdown:        make(chan struct{}),
		cleanupInterval: 60 * time.Second,
		now:             time.Now,
	}
}

// Start launches the background cache cleanup goroutine.
func (d *Deduplicator) Start() {
	go d.cleanupLoop()
}

// Stop signals the cleanup loop to exit. Safe to call more than once.
func (d *Deduplicator) Stop() {
	d.stopOnce.Do(func() { close(d.shutdown) })
}

// IsDuplicate reports whether an identical spot was already seen within the
// window, and records this sighting either way.
func (d *Deduplicator) IsDuplicate(s *spot.Spot) bool {
	if d.window <= 0 {
		return false
	}

	hash := hashSpot(s)
	shard := d.shardFor(hash)
	now := d.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.processedCount++

	if when, ok := shard.cache[hash]; ok {
		age := now.Sub(when)
		if age < 0 {
			age = -age
		}
		if age < d.window {
			shard.duplicateCount++
			return true
		}
	}
	shard.cache[hash] = now
	return false
}

// hashSpot folds the 64-bit xxh3 digest of the spot's identity fields down to
// the 32-bit shard keyspace. Frequency participates at 100 Hz resolution so
// skimmer jitter below that does not defeat suppression.
func hashSpot(s *spot.Spot) uint32 {
	buf := make([]byte, 0, 64)
	buf = append(buf, s.DXCall...)
	buf = append(buf, 0)
	buf = append(buf, s.Spotter...)
	buf = append(buf, 0)
	buf = append(buf, s.Band...)
	buf = append(buf, 0)
	buf = append(buf, s.Mode...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint64(buf, uint64(int64(s.Frequency*10)))

	h := xxh3.Hash(buf)
	return uint32(h) ^ uint32(h>>32)
}

// cleanupLoop periodically removes expired entries from the cache so the
// footprint stays bounded.
func (d *Deduplicator) cleanupLoop() {
	ticker := time.NewTicker(d.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			log.Println("Deduplicator: Cleanup loop stopped")
			return
		case <-ticker.C:
			d.cleanup()
		}
	}
}

// cleanup removes expired entries from every shard.
func (d *Deduplicator) cleanup() {
	now := d.now()
	for i := range d.shards {
		shard := &d.shards[i]
		shard.mu.Lock()
		for hash, when := range shard.cache {
			if now.Sub(when) > d.window {
				delete(shard.cache, hash)
			}
		}
		shard.mu.Unlock()
	}
}

// Stats returns current deduplication statistics.
func (d *Deduplicator) Stats() (processed uint64, duplicates uint64, cacheSize int) {
	for i := range d.shards {
		shard := &d.shards[i]
		shard.mu.Lock()
		processed += shard.processedCount
		duplicates += shard.duplicateCount
		cacheSize += len(shard.cache)
		shard.mu.Unlock()
	}
	return processed, duplicates, cacheSize
}

func (d *Deduplicator) shardFor(hash uint32) *cacheShard {
	idx := hash & (shardCount - 1)
	return &d.shards[idx]
}
