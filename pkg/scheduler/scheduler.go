// Package scheduler runs the outbox forwarding job on a cron cadence and
// applies per-entry results back to the outbox.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pulsearc/core/pkg/observability"
	"github.com/pulsearc/core/pkg/resilience"
	"github.com/pulsearc/core/pkg/storage"
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler: already running")

	// ErrNotRunning is returned by Stop on a stopped scheduler.
	ErrNotRunning = errors.New("scheduler: not running")

	// ErrStopTimeout is returned when running jobs or the monitor do not
	// finish within the configured stop window.
	ErrStopTimeout = errors.New("scheduler: stop timed out")
)

// OutboxPort is the outbox surface the scheduler depends on.
// *storage.OutboxRepository satisfies it.
type OutboxPort interface {
	DequeueBatch(ctx context.Context, limit int) ([]storage.OutboxEntry, error)
	MarkSent(ctx context.Context, id string, sapEntryID *string) error
	MarkFailed(ctx context.Context, id string, cause string) error
}

// Config drives the forwarding job cadence and its timeouts. The cron
// expression uses 6 fields with seconds precision.
type Config struct {
	CronExpression string
	BatchSize      int
	JobTimeout     time.Duration
	StartTimeout   time.Duration
	StopTimeout    time.Duration
	JoinTimeout    time.Duration
}

// DefaultConfig fires every 30 minutes.
func DefaultConfig() Config {
	return Config{
		CronExpression: "0 */30 * * * *",
		BatchSize:      50,
		JobTimeout:     5 * time.Minute,
		StartTimeout:   5 * time.Second,
		StopTimeout:    5 * time.Second,
		JoinTimeout:    5 * time.Second,
	}
}

// Validate rejects impossible scheduler configurations.
func (c Config) Validate() error {
	if c.CronExpression == "" {
		return &resilience.ConfigError{Field: "CronExpression", Reason: "cannot be empty"}
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(c.CronExpression); err != nil {
		return &resilience.ConfigError{Field: "CronExpression", Reason: err.Error()}
	}
	if c.BatchSize <= 0 {
		return &resilience.ConfigError{Field: "BatchSize", Reason: "must be positive"}
	}
	if c.JobTimeout <= 0 {
		return &resilience.ConfigError{Field: "JobTimeout", Reason: "must be positive"}
	}
	if c.StopTimeout <= 0 || c.JoinTimeout <= 0 {
		return &resilience.ConfigError{Field: "StopTimeout", Reason: "stop and join timeouts must be positive"}
	}
	return nil
}

// Scheduler owns the cron runner, a cancellation token observed by a monitor
// goroutine, and the forwarding job body.
type Scheduler struct {
	cfg       Config
	outbox    OutboxPort
	forwarder *BatchForwarder
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *observability.Metrics

	mu          sync.Mutex
	running     bool
	runner      *cron.Cron
	cancel      context.CancelFunc
	monitorDone chan struct{}
}

// New builds a stopped scheduler. A nil logger defaults to slog.Default().
func New(cfg Config, outbox OutboxPort, forwarder *BatchForwarder, logger *slog.Logger) (*Scheduler, error) {
	if outbox == nil {
		return nil, &resilience.ConfigError{Field: "outbox", Reason: "cannot be nil"}
	}
	if forwarder == nil {
		return nil, &resilience.ConfigError{Field: "forwarder", Reason: "cannot be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		outbox:    outbox,
		forwarder: forwarder,
		logger:    logger,
		tracer:    otel.Tracer("pulsearc.core/scheduler"),
	}, nil
}

// WithMetrics attaches a metrics sink. Call before Start.
func (s *Scheduler) WithMetrics(m *observability.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Start launches the cron runner and the monitor goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	tokenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runner := cron.New(cron.WithSeconds())
	if _, err := runner.AddFunc(s.cfg.CronExpression, func() { s.runJob(tokenCtx) }); err != nil {
		cancel()
		return &resilience.ConfigError{Field: "CronExpression", Reason: err.Error()}
	}

	s.runner = runner
	s.cancel = cancel
	s.monitorDone = make(chan struct{})
	go s.monitor(tokenCtx, s.monitorDone)

	runner.Start()
	s.running = true
	s.logger.Info("scheduler started", "cron", s.cfg.CronExpression, "batch_size", s.cfg.BatchSize)
	return nil
}

// Stop cancels the token, stops the cron runner, and waits for running jobs
// and the monitor under the configured timeouts.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}

	s.cancel()
	stopCtx := s.runner.Stop()

	select {
	case <-stopCtx.Done():
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("scheduler stop timed out waiting for running jobs")
		s.running = false
		return ErrStopTimeout
	}

	select {
	case <-s.monitorDone:
	case <-time.After(s.cfg.JoinTimeout):
		s.logger.Warn("scheduler stop timed out joining monitor")
		s.running = false
		return ErrStopTimeout
	}

	s.running = false
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports the lifecycle state.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// monitor observes the cancellation token so that a cancelled scheduler is
// visible in logs even when Stop is never called.
func (s *Scheduler) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)
	<-ctx.Done()
	s.logger.Info("scheduler cancellation observed")
}

// runJob is one cron fire: dequeue, forward, apply results.
func (s *Scheduler) runJob(tokenCtx context.Context) {
	if tokenCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(tokenCtx, s.cfg.JobTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "scheduler.forward_outbox")
	defer span.End()

	started := time.Now()
	entries, err := s.outbox.DequeueBatch(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Warn("outbox dequeue failed", "error", err)
		s.metrics.RecordSchedulerJob("dequeue_error", time.Since(started))
		return
	}
	if len(entries) == 0 {
		return
	}
	s.logger.Info("forwarding outbox batch", "entries", len(entries))

	result := s.forwarder.SubmitBatch(ctx, entries)
	span.SetAttributes(
		attribute.Int("outbox.successful", result.Successful),
		attribute.Int("outbox.failed", result.Failed),
	)

	for _, er := range result.EntryResults {
		if er.Submitted {
			s.metrics.RecordEntryForwarded("submitted")
			sapID := er.SapEntryID
			if err := s.outbox.MarkSent(ctx, er.EntryID, &sapID); err != nil {
				s.logger.Warn("mark sent failed", "entry_id", er.EntryID, "error", err)
			}
			continue
		}
		s.metrics.RecordEntryForwarded(er.Category.String())
		cause := er.Category.String()
		if er.Err != nil {
			cause = er.Err.Error()
		}
		if err := s.outbox.MarkFailed(ctx, er.EntryID, cause); err != nil {
			s.logger.Warn("mark failed failed", "entry_id", er.EntryID, "error", err)
		}
	}
	s.metrics.RecordSchedulerJob("completed", time.Since(started))
	s.logger.Info("outbox batch forwarded",
		"successful", result.Successful, "failed", result.Failed)
}
