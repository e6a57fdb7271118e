// Package cache implements the bounded LRU of §4.3. It wraps
// hashicorp/golang-lru/v2 (carried from the smartramana-developer-mesh
// member of the pack) for the O(1)-amortized access-order core, and adds
// the approximate memory estimator and named-instance conventions §4.3
// calls for that the library itself doesn't provide.
package cache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Sizer estimates the in-memory footprint of a value. Callers that store
// something heavier than a handful of scalars should provide one; the
// default assumes a small fixed overhead per entry.
type Sizer[V any] func(V) int64

// Cache is a fixed-capacity key -> value store with access-order eviction.
type Cache[K comparable, V any] struct {
	inner    *lru.Cache[K, V]
	sizer    Sizer[V]
	bytes    int64
	capacity int
	mu       sync.Mutex
}

// New creates a cache with the given capacity. sizer may be nil, in which
// case GetMemoryEstimate reports a fixed per-entry overhead only.
func New[K comparable, V any](capacity int, sizer Sizer[V]) *Cache[K, V] {
	inner, err := lru.New[K, V](capacity)
	if err != nil {
		// lru.New only errors on capacity <= 0; fall back to a capacity of 1
		// rather than propagating a constructor error through every caller.
		inner, _ = lru.New[K, V](1)
		capacity = 1
	}
	return &Cache[K, V]{inner: inner, sizer: sizer, capacity: capacity}
}

const baseEntryOverhead = 48 // rough struct/map-bucket overhead per entry

// Get promotes the key to most-recently-used on hit.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.inner.Get(key)
}

// Set inserts or overwrites key, promoting it, and evicts the oldest entry
// when the cache is at capacity.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var delta int64 = baseEntryOverhead
	if c.sizer != nil {
		delta += c.sizer(value)
	}

	if old, ok := c.inner.Peek(key); ok {
		var oldSize int64 = baseEntryOverhead
		if c.sizer != nil {
			oldSize += c.sizer(old)
		}
		atomic.AddInt64(&c.bytes, delta-oldSize)
		c.inner.Add(key, value)
		return
	}

	evicted := c.inner.Add(key, value)
	atomic.AddInt64(&c.bytes, delta)
	if evicted {
		// An eviction happened but golang-lru/v2 doesn't report which key;
		// the byte estimate is advisory (§4.3 calls it "approximate"), so we
		// degrade gracefully rather than tracking per-key sizes separately.
		c.bytes = maxInt64(0, c.bytes-baseEntryOverhead)
	}
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.inner.Peek(key); ok {
		var oldSize int64 = baseEntryOverhead
		if c.sizer != nil {
			oldSize += c.sizer(old)
		}
		atomic.AddInt64(&c.bytes, -oldSize)
	}
	c.inner.Remove(key)
}

// Size returns the current number of entries.
func (c *Cache[K, V]) Size() int {
	return c.inner.Len()
}

// Capacity returns the configured capacity.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// MemoryEstimate returns the approximate number of bytes held, per §4.3.
func (c *Cache[K, V]) MemoryEstimate() int64 {
	return atomic.LoadInt64(&c.bytes)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
