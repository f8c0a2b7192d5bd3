package cache

import (
	"context"

	"github.com/pulsearc/core/pkg/clock"
)

// AsyncCache has the same semantics as Cache but a context-aware loader path.
// Loaders run outside the lock, so slow loads never block other callers; the
// write lock is held only across the critical section.
//
// AsyncCache values are cheap handles over shared state.
type AsyncCache[K comparable, V any] struct {
	s *store[K, V]
}

// NewAsync creates a context-aware cache. A nil clock defaults to the system
// clock.
func NewAsync[K comparable, V any](cfg Config, clk clock.Clock) (AsyncCache[K, V], error) {
	s, err := newStore[K, V](cfg, clk)
	if err != nil {
		return AsyncCache[K, V]{}, err
	}
	return AsyncCache[K, V]{s: s}, nil
}

// Insert adds or replaces key, evicting one victim if a new key would exceed
// capacity.
func (c AsyncCache[K, V]) Insert(key K, value V) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.insertLocked(key, value)
}

// Get returns the fresh value for key. Expired entries are removed and
// counted as misses.
func (c AsyncCache[K, V]) Get(key K) (V, bool) {
	// Shared-lock pre-check keeps total misses off the write lock; a hit or
	// an expiry needs the exclusive lock for mutation.
	c.s.mu.RLock()
	_, present := c.s.entries[key]
	c.s.mu.RUnlock()

	if !present {
		c.s.stats.miss()
		var zero V
		return zero, false
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.getLocked(key)
}

// GetOrInsertWith returns the cached value if present and fresh; otherwise it
// runs the loader (outside the lock), inserts the result, and returns it.
// There is no single-flight guarantee: concurrent misses may each run the
// loader, and the last insert wins.
func (c AsyncCache[K, V]) GetOrInsertWith(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.insertLocked(key, v)
	return v, nil
}

// Remove deletes key, reporting whether it was present.
func (c AsyncCache[K, V]) Remove(key K) bool {
	return c.s.remove(key)
}

// ContainsKey reports whether key is present and fresh.
func (c AsyncCache[K, V]) ContainsKey(key K) bool {
	return c.s.containsKey(key)
}

// Len returns the number of entries, expired or not.
func (c AsyncCache[K, V]) Len() int {
	return c.s.len()
}

// IsEmpty reports whether the cache holds no entries.
func (c AsyncCache[K, V]) IsEmpty() bool {
	return c.s.len() == 0
}

// Clear removes all entries. Insertion-order counters are not reset.
func (c AsyncCache[K, V]) Clear() {
	c.s.clear()
}

// CleanupExpired removes all expired entries and returns how many.
func (c AsyncCache[K, V]) CleanupExpired() int {
	return c.s.cleanupExpired()
}

// Stats returns a non-blocking snapshot of the counters.
func (c AsyncCache[K, V]) Stats() Stats {
	return c.s.snapshot()
}
