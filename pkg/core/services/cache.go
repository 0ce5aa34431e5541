package services

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

const (
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 1024
)

// cacheEntry is replaced wholesale, never mutated.
type cacheEntry struct {
	timestamp time.Time
	snapshot  domain.AggregatedSnapshot
}

// snapshotCache is a bounded per-owner LRU whose entries also expire after ttl.
// Each owner has a generation bumped by invalidate; a load may only store its
// result while the generation it started with is still current.
type snapshotCache struct {
	ttl     time.Duration
	entries *lru.Cache[string, cacheEntry]

	mu          sync.Mutex
	generations map[string]uint64
}

func newSnapshotCache(size int, ttl time.Duration) (*snapshotCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &snapshotCache{ttl: ttl, entries: entries, generations: make(map[string]uint64)}, nil
}

func (c *snapshotCache) get(owner string, now time.Time) (domain.AggregatedSnapshot, bool) {
	e, ok := c.entries.Get(owner)
	if !ok {
		return domain.AggregatedSnapshot{}, false
	}
	if c.expired(e, now) {
		c.entries.Remove(owner)
		return domain.AggregatedSnapshot{}, false
	}
	return e.snapshot.Clone(), true
}

func (c *snapshotCache) generation(owner string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[owner]
}

// add stores snapshot unless the owner was invalidated after gen was read.
func (c *snapshotCache) add(owner string, gen uint64, snapshot domain.AggregatedSnapshot, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[owner] != gen {
		return false
	}
	c.entries.Add(owner, cacheEntry{timestamp: now, snapshot: snapshot.Clone()})
	return true
}

// invalidate drops the owner's entry and marks loads already running as stale.
func (c *snapshotCache) invalidate(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[owner]++
	c.entries.Remove(owner)
}

// purge drops every expired entry and returns how many went.
func (c *snapshotCache) purge(now time.Time) int {
	n := 0
	for _, owner := range c.entries.Keys() {
		if e, ok := c.entries.Peek(owner); ok && c.expired(e, now) {
			c.entries.Remove(owner)
			n++
		}
	}
	return n
}

func (c *snapshotCache) len() int {
	return c.entries.Len()
}

func (c *snapshotCache) expired(e cacheEntry, now time.Time) bool {
	return now.Sub(e.timestamp) >= c.ttl
}
