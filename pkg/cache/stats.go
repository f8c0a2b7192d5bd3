package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size        int
	MaxSize     int
	Hits        uint64
	Misses      uint64
	Inserts     uint64
	Evictions   uint64
	Expirations uint64
	HitRate     float64
}

// counters holds the live atomic counters behind Stats snapshots.
type counters struct {
	enabled     bool
	hits        atomic.Uint64
	misses      atomic.Uint64
	inserts     atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

func (c *counters) hit() {
	if c.enabled {
		c.hits.Add(1)
	}
}

func (c *counters) miss() {
	if c.enabled {
		c.misses.Add(1)
	}
}

func (c *counters) insert() {
	if c.enabled {
		c.inserts.Add(1)
	}
}

func (c *counters) evict() {
	if c.enabled {
		c.evictions.Add(1)
	}
}

func (c *counters) expire(n uint64) {
	if c.enabled {
		c.expirations.Add(n)
	}
}

func (c *counters) snapshot(size, maxSize int) Stats {
	s := Stats{
		Size:        size,
		MaxSize:     maxSize,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Inserts:     c.inserts.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
