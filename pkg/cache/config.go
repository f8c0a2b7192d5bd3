// Package cache provides bounded in-process maps with pluggable eviction
// (LRU, LFU, FIFO, Random, None) and optional TTL, in a blocking flavor
// (Cache) and a context-aware flavor (AsyncCache). Both are cheap handles
// over shared state and safe for concurrent use.
package cache

import (
	"errors"
	"fmt"
	"time"
)

// EvictionPolicy selects the victim when a bounded cache is full.
type EvictionPolicy int

const (
	// LRU evicts the entry with the oldest last access.
	LRU EvictionPolicy = iota
	// LFU evicts the entry with the smallest access count.
	LFU
	// FIFO evicts the earliest-inserted entry still present.
	FIFO
	// Random evicts a uniformly chosen entry.
	Random
	// None never evicts; capacity becomes advisory and growth is unbounded.
	None
)

func (p EvictionPolicy) String() string {
	switch p {
	case LRU:
		return "lru"
	case LFU:
		return "lfu"
	case FIFO:
		return "fifo"
	case Random:
		return "random"
	case None:
		return "none"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Config describes a cache's bounds and behavior.
type Config struct {
	// MaxSize bounds the entry count. Zero means unbounded.
	MaxSize int

	// TTL expires entries older than this since insertion. Zero disables TTL.
	TTL time.Duration

	// EvictionPolicy selects the victim when MaxSize is reached.
	EvictionPolicy EvictionPolicy

	// TrackMetrics enables hit/miss/eviction counters.
	TrackMetrics bool
}

// Validate rejects impossible configurations at construction time.
func (c Config) Validate() error {
	if c.MaxSize < 0 {
		return errors.New("cache: MaxSize cannot be negative")
	}
	if c.TTL < 0 {
		return errors.New("cache: TTL cannot be negative")
	}
	if c.EvictionPolicy < LRU || c.EvictionPolicy > None {
		return fmt.Errorf("cache: unknown eviction policy %d", int(c.EvictionPolicy))
	}
	return nil
}

// DefaultConfig returns an unbounded, untimed LRU cache config with metrics.
func DefaultConfig() Config {
	return Config{EvictionPolicy: LRU, TrackMetrics: true}
}
