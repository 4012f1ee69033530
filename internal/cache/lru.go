// Package cache provides bounded in-memory caches with least-recently-used eviction.
package cache

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/golang/groupcache/lru"
)

// ErrInvalidCapacity is returned when a cache is constructed with capacity < 1.
var ErrInvalidCapacity = errors.New("cache: capacity must be at least 1")

// LRU is a thread-safe, fixed-capacity cache. Recency is updated by Get and
// Set only; Has never changes eviction order.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	list     *lru.Cache
	present  map[K]struct{}
	evicts   atomic.Uint64
}

// NewLRU creates an LRU cache holding at most capacity entries.
func NewLRU[K comparable, V any](capacity int) (*LRU[K, V], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	c := &LRU[K, V]{
		capacity: capacity,
		list:     lru.New(capacity),
		present:  make(map[K]struct{}, capacity),
	}
	c.list.OnEvicted = func(key lru.Key, _ interface{}) {
		delete(c.present, key.(K))
	}
	return c, nil
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.list.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return value.(V), true
}

// Set inserts or updates key and marks it most recently used. Inserting a new
// key into a full cache evicts the least recently used entry.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.present[key]; !exists && len(c.present) >= c.capacity {
		c.evicts.Add(1)
	}
	c.present[key] = struct{}{}
	c.list.Add(key, value)
}

// Has reports whether key is cached without touching recency.
func (c *LRU[K, V]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.present[key]
	return ok
}

// Delete removes key if present.
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Remove(key)
}

// Clear removes every entry.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Clear()
	c.present = make(map[K]struct{}, c.capacity)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Capacity returns the maximum number of entries.
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// Evictions returns how many entries were dropped to make room for new keys.
func (c *LRU[K, V]) Evictions() uint64 {
	return c.evicts.Load()
}
