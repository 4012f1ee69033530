package cache

import (
	"sync/atomic"
	"time"
)

// TTLCache is an LRU cache whose entries also expire after a fixed duration.
// Expired entries are removed lazily when read.
type TTLCache[K comparable, V any] struct {
	entries *LRU[K, ttlEntry[V]]
	ttl     time.Duration
	now     func() time.Time

	// Statistics
	hits   atomic.Uint64
	misses atomic.Uint64
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLConfig configures a TTL cache.
type TTLConfig struct {
	// TTL is the time-to-live for entries (default 5m).
	TTL time.Duration
	// MaxSize bounds the entry count (default 500).
	MaxSize int
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	Evicts  uint64
	HitRate float64
}

// NewTTLCache creates a TTL cache with the given configuration.
func NewTTLCache[K comparable, V any](config TTLConfig) *TTLCache[K, V] {
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 500
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	// MaxSize is at least 1 here.
	entries, _ := NewLRU[K, ttlEntry[V]](config.MaxSize)
	return &TTLCache[K, V]{
		entries: entries,
		ttl:     config.TTL,
		now:     config.Now,
	}
}

// Set stores a value with the cache TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.entries.Set(key, ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)})
}

// Get returns the value if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.misses.Add(1)
		c.entries.Delete(key)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return entry.value, true
}

// Clear removes all entries.
func (c *TTLCache[K, V]) Clear() {
	c.entries.Clear()
}

// Len returns the number of entries, including expired ones not yet read.
func (c *TTLCache[K, V]) Len() int {
	return c.entries.Len()
}

// Stats returns cache statistics.
func (c *TTLCache[K, V]) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Size:    c.entries.Len(),
		MaxSize: c.entries.Capacity(),
		Hits:    hits,
		Misses:  misses,
		Evicts:  c.entries.Evictions(),
		HitRate: hitRate,
	}
}
