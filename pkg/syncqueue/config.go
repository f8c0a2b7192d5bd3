package syncqueue

import (
	"errors"
	"fmt"
	"time"
)

// Config describes a queue's capacity, retry, persistence, and maintenance
// behavior.
type Config struct {
	// MaxCapacity bounds the number of tracked items.
	MaxCapacity int

	// BatchSize is the default batch size for PopBatch callers.
	BatchSize int

	// BaseRetryDelay and MaxRetryDelay bound the exponential retry backoff
	// applied by MarkFailed.
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration

	// PersistencePath enables periodic snapshotting when non-empty.
	PersistencePath     string
	PersistenceInterval time.Duration

	// CleanupInterval drives the maintenance loop; RetentionPeriod bounds how
	// long terminal items are kept; StuckTimeout resets processing items that
	// never terminalized.
	CleanupInterval time.Duration
	RetentionPeriod time.Duration
	StuckTimeout    time.Duration

	// HeapCleanupThreshold is the heap length at which maintenance rebuilds
	// the heap to drop orphaned entries.
	HeapCleanupThreshold int

	// EnableDeduplication rejects pushes of already-queued ids.
	EnableDeduplication bool

	// EnableCompression compresses snapshots at CompressionLevel (1..9).
	EnableCompression bool
	CompressionLevel  int

	// EnableEncryption seals snapshots with the 32-byte EncryptionKey.
	EnableEncryption bool
	EncryptionKey    []byte
}

// DefaultConfig returns the standard queue settings.
func DefaultConfig() Config {
	return Config{
		MaxCapacity:          10_000,
		BatchSize:            100,
		BaseRetryDelay:       time.Second,
		MaxRetryDelay:        time.Hour,
		PersistenceInterval:  30 * time.Second,
		CleanupInterval:      300 * time.Second,
		RetentionPeriod:      7 * 24 * time.Hour,
		StuckTimeout:         5 * time.Minute,
		HeapCleanupThreshold: 1000,
		EnableDeduplication:  true,
		EnableCompression:    true,
		CompressionLevel:     6,
	}
}

// Validate rejects impossible configurations at construction time.
func (c Config) Validate() error {
	if c.MaxCapacity <= 0 {
		return errors.New("syncqueue: MaxCapacity must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("syncqueue: BatchSize must be positive")
	}
	if c.BaseRetryDelay <= 0 {
		return errors.New("syncqueue: BaseRetryDelay must be positive")
	}
	if c.MaxRetryDelay < c.BaseRetryDelay {
		return errors.New("syncqueue: MaxRetryDelay must be at least BaseRetryDelay")
	}
	if c.PersistenceInterval <= 0 {
		return errors.New("syncqueue: PersistenceInterval must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("syncqueue: CleanupInterval must be positive")
	}
	if c.RetentionPeriod <= 0 {
		return errors.New("syncqueue: RetentionPeriod must be positive")
	}
	if c.HeapCleanupThreshold <= 0 {
		return errors.New("syncqueue: HeapCleanupThreshold must be positive")
	}
	if c.EnableCompression && (c.CompressionLevel < 1 || c.CompressionLevel > 9) {
		return fmt.Errorf("syncqueue: CompressionLevel %d out of range [1,9]", c.CompressionLevel)
	}
	if c.EnableEncryption && len(c.EncryptionKey) != 32 {
		return errors.New("syncqueue: EncryptionKey must be exactly 32 bytes")
	}
	return nil
}
