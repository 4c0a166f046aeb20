// Package cache provides the time-bounded key/value store the aggregator
// puts in front of its collaborator queries.
//
// Expiry is lazy: an entry older than the TTL is reported as absent by Get
// but stays in the map until it is overwritten or invalidated. Two callers
// that miss on the same key may both fetch and both Set; the later write
// wins. Writes are re-reads of the same source, so this only costs a
// redundant query.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value and the time it was stored.
type Entry[V any] struct {
	Value     V
	FetchedAt time.Time
}

// Cache is a TTL-bounded map. The zero value is not usable; call New.
type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry[V]
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock overrides the time source, mainly for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a cache whose entries expire ttl after they were written.
// A non-positive ttl makes every Get miss.
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry[V]),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value for key if it was set less than TTL ago.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.FetchedAt) >= c.ttl {
		return zero, false
	}
	return e.Value, true
}

// Set stores value under key, stamping it with the current time.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: value, FetchedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops the given keys, or every entry when called without keys.
func (c *Cache[V]) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) == 0 {
		c.entries = make(map[string]Entry[V])
		return
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
