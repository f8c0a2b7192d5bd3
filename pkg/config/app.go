package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pulsearc/core/pkg/cache"
	"github.com/pulsearc/core/pkg/cost"
	"github.com/pulsearc/core/pkg/scheduler"
	"github.com/pulsearc/core/pkg/storage"
	"github.com/pulsearc/core/pkg/syncqueue"
)

// AppConfig aggregates every component's settings. Zero values are filled
// from Default; Validate delegates to the component validators after
// materialization.
type AppConfig struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Cost      CostConfig      `yaml:"cost"`
	Cache     CacheConfig     `yaml:"cache"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Path        string   `yaml:"path"`
	KeyHex      string   `yaml:"key_hex"`
	PoolSize    int      `yaml:"pool_size"`
	BusyTimeout Duration `yaml:"busy_timeout"`
	Workers     int      `yaml:"workers"`
	WorkerQueue int      `yaml:"worker_queue"`
}

type QueueConfig struct {
	MaxCapacity          int      `yaml:"max_capacity"`
	BatchSize            int      `yaml:"batch_size"`
	BaseRetryDelay       Duration `yaml:"base_retry_delay"`
	MaxRetryDelay        Duration `yaml:"max_retry_delay"`
	PersistencePath      string   `yaml:"persistence_path"`
	PersistenceInterval  Duration `yaml:"persistence_interval"`
	CleanupInterval      Duration `yaml:"cleanup_interval"`
	RetentionPeriod      Duration `yaml:"retention_period"`
	StuckTimeout         Duration `yaml:"stuck_timeout"`
	HeapCleanupThreshold int      `yaml:"heap_cleanup_threshold"`
	EnableDeduplication  bool     `yaml:"enable_deduplication"`
	EnableCompression    bool     `yaml:"enable_compression"`
	CompressionLevel     int      `yaml:"compression_level"`
	EnableEncryption     bool     `yaml:"enable_encryption"`
	EncryptionKeyHex     string   `yaml:"encryption_key_hex"`
}

type SchedulerConfig struct {
	CronExpression string   `yaml:"cron_expression"`
	BatchSize      int      `yaml:"batch_size"`
	JobTimeout     Duration `yaml:"job_timeout"`
	StartTimeout   Duration `yaml:"start_timeout"`
	StopTimeout    Duration `yaml:"stop_timeout"`
	JoinTimeout    Duration `yaml:"join_timeout"`
}

type ForwarderConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	Multiplier   float64  `yaml:"multiplier"`
	MaxDelay     Duration `yaml:"max_delay"`
}

type CostConfig struct {
	MaxMonthlyCostUSD float64 `yaml:"max_monthly_cost_usd"`
	AlertThresholdUSD float64 `yaml:"alert_threshold_usd"`
	RateInPerMillion  float64 `yaml:"rate_in_per_million"`
	RateOutPerMillion float64 `yaml:"rate_out_per_million"`
}

type CacheConfig struct {
	MaxSize        int      `yaml:"max_size"`
	TTL            Duration `yaml:"ttl"`
	EvictionPolicy string   `yaml:"eviction_policy"`
	TrackMetrics   bool     `yaml:"track_metrics"`
}

// Default returns the complete default configuration. The database key has
// no default; it must come from the file or environment.
func Default() AppConfig {
	q := syncqueue.DefaultConfig()
	s := scheduler.DefaultConfig()
	f := scheduler.DefaultForwarderConfig()
	c := cost.DefaultRateConfig()
	return AppConfig{
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			Path:        "pulsearc.db",
			PoolSize:    4,
			BusyTimeout: Duration(5 * time.Second),
			Workers:     4,
			WorkerQueue: 256,
		},
		Queue: QueueConfig{
			MaxCapacity:          q.MaxCapacity,
			BatchSize:            q.BatchSize,
			BaseRetryDelay:       Duration(q.BaseRetryDelay),
			MaxRetryDelay:        Duration(q.MaxRetryDelay),
			PersistenceInterval:  Duration(q.PersistenceInterval),
			CleanupInterval:      Duration(q.CleanupInterval),
			RetentionPeriod:      Duration(q.RetentionPeriod),
			StuckTimeout:         Duration(q.StuckTimeout),
			HeapCleanupThreshold: q.HeapCleanupThreshold,
			EnableDeduplication:  q.EnableDeduplication,
			EnableCompression:    q.EnableCompression,
			CompressionLevel:     q.CompressionLevel,
		},
		Scheduler: SchedulerConfig{
			CronExpression: s.CronExpression,
			BatchSize:      s.BatchSize,
			JobTimeout:     Duration(s.JobTimeout),
			StartTimeout:   Duration(s.StartTimeout),
			StopTimeout:    Duration(s.StopTimeout),
			JoinTimeout:    Duration(s.JoinTimeout),
		},
		Forwarder: ForwarderConfig{
			MaxAttempts:  f.MaxAttempts,
			InitialDelay: Duration(f.InitialDelay),
			Multiplier:   f.Multiplier,
			MaxDelay:     Duration(f.MaxDelay),
		},
		Cost: CostConfig{
			MaxMonthlyCostUSD: c.MaxMonthlyCostUSD,
			AlertThresholdUSD: c.AlertThresholdUSD,
			RateInPerMillion:  c.RateInPerMillion,
			RateOutPerMillion: c.RateOutPerMillion,
		},
		Cache: CacheConfig{
			MaxSize:        1000,
			TTL:            Duration(time.Hour),
			EvictionPolicy: "lru",
			TrackMetrics:   true,
		},
	}
}

// Validate materializes every component config and runs its validator.
func (c AppConfig) Validate() error {
	if _, err := c.StorageConfig(); err != nil {
		return err
	}
	queueCfg, err := c.QueueConfig()
	if err != nil {
		return err
	}
	if err := queueCfg.Validate(); err != nil {
		return err
	}
	if err := c.SchedulerConfig().Validate(); err != nil {
		return err
	}
	if err := c.ForwarderConfig().Validate(); err != nil {
		return err
	}
	if err := c.CostConfig().Validate(); err != nil {
		return err
	}
	cacheCfg, err := c.CacheConfig()
	if err != nil {
		return err
	}
	return cacheCfg.Validate()
}

// StorageConfig decodes the hex key and builds the storage configuration.
func (c AppConfig) StorageConfig() (storage.Config, error) {
	key, err := hex.DecodeString(c.Database.KeyHex)
	if err != nil {
		return storage.Config{}, fmt.Errorf("config: database.key_hex is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return storage.Config{}, fmt.Errorf("config: database.key_hex must decode to 32 bytes, got %d", len(key))
	}
	cfg := storage.Config{
		Path:        c.Database.Path,
		Key:         key,
		PoolSize:    c.Database.PoolSize,
		BusyTimeout: c.Database.BusyTimeout.Std(),
		Workers:     c.Database.Workers,
		WorkerQueue: c.Database.WorkerQueue,
	}
	return cfg, cfg.Validate()
}

// QueueConfig builds the sync queue configuration, decoding the snapshot
// encryption key when encryption is enabled.
func (c AppConfig) QueueConfig() (syncqueue.Config, error) {
	cfg := syncqueue.Config{
		MaxCapacity:          c.Queue.MaxCapacity,
		BatchSize:            c.Queue.BatchSize,
		BaseRetryDelay:       c.Queue.BaseRetryDelay.Std(),
		MaxRetryDelay:        c.Queue.MaxRetryDelay.Std(),
		PersistencePath:      c.Queue.PersistencePath,
		PersistenceInterval:  c.Queue.PersistenceInterval.Std(),
		CleanupInterval:      c.Queue.CleanupInterval.Std(),
		RetentionPeriod:      c.Queue.RetentionPeriod.Std(),
		StuckTimeout:         c.Queue.StuckTimeout.Std(),
		HeapCleanupThreshold: c.Queue.HeapCleanupThreshold,
		EnableDeduplication:  c.Queue.EnableDeduplication,
		EnableCompression:    c.Queue.EnableCompression,
		CompressionLevel:     c.Queue.CompressionLevel,
		EnableEncryption:     c.Queue.EnableEncryption,
	}
	if c.Queue.EnableEncryption {
		key, err := hex.DecodeString(c.Queue.EncryptionKeyHex)
		if err != nil {
			return syncqueue.Config{}, fmt.Errorf("config: queue.encryption_key_hex is not valid hex: %w", err)
		}
		cfg.EncryptionKey = key
	}
	return cfg, nil
}

func (c AppConfig) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		CronExpression: c.Scheduler.CronExpression,
		BatchSize:      c.Scheduler.BatchSize,
		JobTimeout:     c.Scheduler.JobTimeout.Std(),
		StartTimeout:   c.Scheduler.StartTimeout.Std(),
		StopTimeout:    c.Scheduler.StopTimeout.Std(),
		JoinTimeout:    c.Scheduler.JoinTimeout.Std(),
	}
}

func (c AppConfig) ForwarderConfig() scheduler.ForwarderConfig {
	return scheduler.ForwarderConfig{
		MaxAttempts:  c.Forwarder.MaxAttempts,
		InitialDelay: c.Forwarder.InitialDelay.Std(),
		Multiplier:   c.Forwarder.Multiplier,
		MaxDelay:     c.Forwarder.MaxDelay.Std(),
	}
}

func (c AppConfig) CostConfig() cost.RateConfig {
	return cost.RateConfig{
		MaxMonthlyCostUSD: c.Cost.MaxMonthlyCostUSD,
		AlertThresholdUSD: c.Cost.AlertThresholdUSD,
		RateInPerMillion:  c.Cost.RateInPerMillion,
		RateOutPerMillion: c.Cost.RateOutPerMillion,
	}
}

// CacheConfig maps the eviction policy name onto the cache package's enum.
func (c AppConfig) CacheConfig() (cache.Config, error) {
	var policy cache.EvictionPolicy
	switch c.Cache.EvictionPolicy {
	case "lru", "":
		policy = cache.LRU
	case "lfu":
		policy = cache.LFU
	case "fifo":
		policy = cache.FIFO
	case "random":
		policy = cache.Random
	case "none":
		policy = cache.None
	default:
		return cache.Config{}, fmt.Errorf("config: unknown eviction policy %q", c.Cache.EvictionPolicy)
	}
	return cache.Config{
		MaxSize:        c.Cache.MaxSize,
		TTL:            c.Cache.TTL.Std(),
		EvictionPolicy: policy,
		TrackMetrics:   c.Cache.TrackMetrics,
	}, nil
}
