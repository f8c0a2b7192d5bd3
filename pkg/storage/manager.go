package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/pulsearc/core/pkg/clock"
)

// Config describes the encrypted database and its connection pool.
type Config struct {
	// Path is the database file location.
	Path string

	// Key is the 32-byte page-cipher key. Every pooled connection binds it
	// via a key pragma at open.
	Key []byte

	// PoolSize is the number of pooled connections.
	PoolSize int

	// BusyTimeout is the per-connection SQLite busy handler timeout.
	BusyTimeout time.Duration

	// Workers and WorkerQueue size the blocking dispatch pool.
	Workers     int
	WorkerQueue int
}

// DefaultConfig returns standard pool settings for the given path and key.
func DefaultConfig(path string, key []byte) Config {
	return Config{
		Path:        path,
		Key:         key,
		PoolSize:    4,
		BusyTimeout: 5 * time.Second,
		Workers:     4,
		WorkerQueue: 256,
	}
}

// Validate rejects impossible configurations.
func (c Config) Validate() error {
	if c.Path == "" {
		return invalidInput("config", "Path cannot be empty")
	}
	if len(c.Key) != 32 {
		return invalidInput("config", "Key must be exactly 32 bytes")
	}
	if c.PoolSize <= 0 {
		return invalidInput("config", "PoolSize must be positive")
	}
	if c.BusyTimeout < 0 {
		return invalidInput("config", "BusyTimeout cannot be negative")
	}
	return nil
}

// Manager owns the encrypted connection pool and the blocking dispatch pool
// shared by all repositories.
type Manager struct {
	db     *sql.DB
	disp   *dispatcher
	clk    clock.Clock
	logger *slog.Logger
}

// NewManager opens the encrypted database, verifies the key with a ping, and
// bootstraps the schema. A nil clock defaults to the system clock; a nil
// logger defaults to slog.Default().
func NewManager(cfg Config, clk clock.Clock, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Path, hex.EncodeToString(cfg.Key), cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, mapError("open", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(0)

	// A wrong key surfaces here, before any repository is built.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, mapError("open", err)
	}

	m := &Manager{
		db:     db,
		disp:   newDispatcher(cfg.Workers, cfg.WorkerQueue),
		clk:    clk,
		logger: logger,
	}
	if err := m.initSchema(ctx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return mapError("init schema", err)
		}
	}
	return nil
}

// Ping verifies the pool can reach (and decrypt) the database.
func (m *Manager) Ping(ctx context.Context) error {
	return mapError("ping", m.db.PingContext(ctx))
}

// Close stops the dispatch pool and closes the connection pool.
func (m *Manager) Close() error {
	m.disp.shutdown()
	return mapError("close", m.db.Close())
}

// Snapshots returns the activity snapshot repository.
func (m *Manager) Snapshots() *SnapshotRepository {
	return &SnapshotRepository{m: m}
}

// Blocks returns the proposed time block repository.
func (m *Manager) Blocks() *BlockRepository {
	return &BlockRepository{m: m}
}

// Outbox returns the time-entry outbox repository.
func (m *Manager) Outbox() *OutboxRepository {
	return &OutboxRepository{m: m}
}

// Batches returns the batch lease repository.
func (m *Manager) Batches() *BatchRepository {
	return &BatchRepository{m: m}
}

// IDMappings returns the local/backend id mapping repository.
func (m *Manager) IDMappings() *IDMappingRepository {
	return &IDMappingRepository{m: m}
}

// TokenUsage returns the token usage repository.
func (m *Manager) TokenUsage() *TokenUsageRepository {
	return &TokenUsageRepository{m: m}
}

func (m *Manager) now() int64 {
	return m.clk.Now().Unix()
}

func (m *Manager) nowMillis() int64 {
	return m.clk.MillisSinceEpoch()
}
