package cache

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pulsearc/core/pkg/clock"
)

// entry is the stored record for one key. Entries are replaced wholesale on
// reinsert, never mutated by callers.
type entry[V any] struct {
	value          V
	insertedAt     time.Time
	lastAccessed   time.Time
	accessCount    uint64
	insertionOrder uint64
}

// store holds the shared state behind Cache and AsyncCache handles.
type store[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]
	// orderCounter is monotonic for the cache's lifetime; Clear does not
	// reset it, keeping insertion orders unique and never reused.
	orderCounter uint64

	cfg   Config
	clk   clock.Clock
	stats counters
}

func newStore[K comparable, V any](cfg Config, clk clock.Clock) (*store[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &store[K, V]{
		entries: make(map[K]*entry[V]),
		cfg:     cfg,
		clk:     clk,
		stats:   counters{enabled: cfg.TrackMetrics},
	}, nil
}

func (s *store[K, V]) expired(e *entry[V], now time.Time) bool {
	return s.cfg.TTL > 0 && now.Sub(e.insertedAt) > s.cfg.TTL
}

// insertLocked inserts or replaces under the write lock, evicting first when
// a new key would exceed MaxSize.
func (s *store[K, V]) insertLocked(key K, value V) {
	now := s.clk.Now()
	if _, present := s.entries[key]; !present {
		if s.cfg.MaxSize > 0 && s.cfg.EvictionPolicy != None && len(s.entries) >= s.cfg.MaxSize {
			s.evictOneLocked()
		}
	}
	s.orderCounter++
	s.entries[key] = &entry[V]{
		value:          value,
		insertedAt:     now,
		lastAccessed:   now,
		insertionOrder: s.orderCounter,
	}
	s.stats.insert()
}

// evictOneLocked removes one victim per the configured policy. Ties are
// broken by insertion order so the choice is deterministic.
func (s *store[K, V]) evictOneLocked() {
	if len(s.entries) == 0 {
		return
	}

	var victim K
	found := false

	switch s.cfg.EvictionPolicy {
	case LRU:
		var best *entry[V]
		for k, e := range s.entries {
			if !found || e.lastAccessed.Before(best.lastAccessed) ||
				(e.lastAccessed.Equal(best.lastAccessed) && e.insertionOrder < best.insertionOrder) {
				victim, best, found = k, e, true
			}
		}
	case LFU:
		var best *entry[V]
		for k, e := range s.entries {
			if !found || e.accessCount < best.accessCount ||
				(e.accessCount == best.accessCount && e.insertionOrder < best.insertionOrder) {
				victim, best, found = k, e, true
			}
		}
	case FIFO:
		var best *entry[V]
		for k, e := range s.entries {
			if !found || e.insertionOrder < best.insertionOrder {
				victim, best, found = k, e, true
			}
		}
	case Random:
		n := rand.Intn(len(s.entries))
		for k := range s.entries {
			if n == 0 {
				victim, found = k, true
				break
			}
			n--
		}
	case None:
		return
	}

	if found {
		delete(s.entries, victim)
		s.stats.evict()
	}
}

// getLocked performs the TTL check and hit bookkeeping under the write lock.
func (s *store[K, V]) getLocked(key K) (V, bool) {
	var zero V
	e, ok := s.entries[key]
	if !ok {
		s.stats.miss()
		return zero, false
	}
	now := s.clk.Now()
	if s.expired(e, now) {
		delete(s.entries, key)
		s.stats.expire(1)
		s.stats.miss()
		return zero, false
	}
	e.lastAccessed = now
	e.accessCount++
	s.stats.hit()
	return e.value, true
}

func (s *store[K, V]) remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

func (s *store[K, V]) containsKey(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	return !s.expired(e, s.clk.Now())
}

func (s *store[K, V]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *store[K, V]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[K]*entry[V])
}

func (s *store[K, V]) cleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	removed := 0
	for k, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, k)
			removed++
		}
	}
	if removed > 0 {
		s.stats.expire(uint64(removed))
	}
	return removed
}

func (s *store[K, V]) snapshot() Stats {
	s.mu.RLock()
	size := len(s.entries)
	s.mu.RUnlock()
	return s.stats.snapshot(size, s.cfg.MaxSize)
}
