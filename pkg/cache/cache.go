package cache

import (
	"github.com/pulsearc/core/pkg/clock"
)

// Cache is the blocking flavor: readers share the lock, writers are
// exclusive. The zero value is not usable; construct with New.
//
// Cache values are cheap handles over shared state and may be copied freely.
type Cache[K comparable, V any] struct {
	s *store[K, V]
}

// New creates a blocking cache. A nil clock defaults to the system clock.
func New[K comparable, V any](cfg Config, clk clock.Clock) (Cache[K, V], error) {
	s, err := newStore[K, V](cfg, clk)
	if err != nil {
		return Cache[K, V]{}, err
	}
	return Cache[K, V]{s: s}, nil
}

// Insert adds or replaces key. Replacing an existing key never evicts; a new
// key in a full bounded cache evicts one victim first.
func (c Cache[K, V]) Insert(key K, value V) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.insertLocked(key, value)
}

// Get returns the fresh value for key, expiring it first if the TTL has
// lapsed. A hit updates last-accessed time and access count.
func (c Cache[K, V]) Get(key K) (V, bool) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.getLocked(key)
}

// GetOrInsertWith returns the cached value if present and fresh, otherwise
// computes one with f, inserts it, and returns it. Concurrent misses may each
// invoke f; the last insert wins.
func (c Cache[K, V]) GetOrInsertWith(key K, f func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := f()
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.insertLocked(key, v)
	return v
}

// Remove deletes key, reporting whether it was present.
func (c Cache[K, V]) Remove(key K) bool {
	return c.s.remove(key)
}

// ContainsKey reports whether key is present and fresh. It does not touch
// access metadata.
func (c Cache[K, V]) ContainsKey(key K) bool {
	return c.s.containsKey(key)
}

// Len returns the number of entries, expired or not.
func (c Cache[K, V]) Len() int {
	return c.s.len()
}

// IsEmpty reports whether the cache holds no entries.
func (c Cache[K, V]) IsEmpty() bool {
	return c.s.len() == 0
}

// Clear removes all entries. Insertion-order counters are not reset.
func (c Cache[K, V]) Clear() {
	c.s.clear()
}

// CleanupExpired removes all expired entries and returns how many.
func (c Cache[K, V]) CleanupExpired() int {
	return c.s.cleanupExpired()
}

// Stats returns a non-blocking snapshot of the counters.
func (c Cache[K, V]) Stats() Stats {
	return c.s.snapshot()
}
