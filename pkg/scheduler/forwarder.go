package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pulsearc/core/pkg/clock"
	"github.com/pulsearc/core/pkg/resilience"
	"github.com/pulsearc/core/pkg/sap"
	"github.com/pulsearc/core/pkg/storage"
)

// EntryResult is the per-entry outcome of a batch submission.
type EntryResult struct {
	EntryID    string
	Submitted  bool
	SapEntryID string
	Category   sap.Category
	Err        error
}

// BatchResult aggregates a batch submission. SubmitBatch never fails as a
// whole; per-entry problems land in EntryResults.
type BatchResult struct {
	Successful   int
	Failed       int
	EntryResults []EntryResult
}

// ForwarderConfig bounds the per-entry retry loop.
type ForwarderConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultForwarderConfig returns the standard retry envelope.
func DefaultForwarderConfig() ForwarderConfig {
	return ForwarderConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}
}

// Validate rejects impossible forwarder configurations.
func (c ForwarderConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return &resilience.ConfigError{Field: "MaxAttempts", Reason: "must be positive"}
	}
	if c.InitialDelay <= 0 {
		return &resilience.ConfigError{Field: "InitialDelay", Reason: "must be positive"}
	}
	if c.Multiplier < 1 {
		return &resilience.ConfigError{Field: "Multiplier", Reason: "must be at least 1"}
	}
	if c.MaxDelay < c.InitialDelay {
		return &resilience.ConfigError{Field: "MaxDelay", Reason: "must be at least InitialDelay"}
	}
	return nil
}

// BatchForwarder converts outbox entries to time entries and pushes them to
// the backend one at a time, each under the shared circuit breaker inside a
// bounded retry.
type BatchForwarder struct {
	client  sap.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	clk     clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewBatchForwarder builds a forwarder. A nil breaker gets a default one; a
// nil clock defaults to the system clock; a nil logger to slog.Default().
func NewBatchForwarder(client sap.Client, cfg ForwarderConfig, breaker *resilience.CircuitBreaker, clk clock.Clock, logger *slog.Logger) (*BatchForwarder, error) {
	if client == nil {
		return nil, &resilience.ConfigError{Field: "client", Reason: "cannot be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if breaker == nil {
		var err error
		breaker, err = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(), clk, logger)
		if err != nil {
			return nil, err
		}
	}

	retry := resilience.NewRetryConfig().
		WithMaxAttempts(cfg.MaxAttempts).
		WithExponentialBackoff(cfg.InitialDelay, cfg.Multiplier, cfg.MaxDelay)

	return &BatchForwarder{
		client:  client,
		breaker: breaker,
		retry:   retry,
		clk:     clk,
		logger:  logger,
		tracer:  otel.Tracer("pulsearc.core/scheduler"),
	}, nil
}

// entryPayload is the JSON shape carried by outbox entries. Every field is
// optional; absent values fall back to the entry's own columns.
type entryPayload struct {
	Date          string   `json:"date"`
	DurationHours *float64 `json:"duration_hours"`
	Description   string   `json:"description"`
	WBSCode       string   `json:"wbs_code"`
}

// convert builds a submission-ready time entry from an outbox entry,
// preferring payload fields, then entry columns, then derived values.
func (f *BatchForwarder) convert(entry *storage.OutboxEntry) (*sap.TimeEntry, error) {
	var p entryPayload
	if len(entry.Payload) > 0 {
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return nil, &sap.Error{Category: sap.CategoryValidation, Message: "undecodable payload", Err: err}
		}
	}

	te := &sap.TimeEntry{
		Date:        p.Date,
		Description: p.Description,
		WBSCode:     p.WBSCode,
	}
	if p.DurationHours != nil {
		te.DurationHours = *p.DurationHours
	}
	if te.WBSCode == "" && entry.WBSCode != nil {
		te.WBSCode = *entry.WBSCode
	}
	if te.Description == "" && entry.Description != nil {
		te.Description = *entry.Description
	}
	if te.Date == "" {
		te.Date = time.Unix(entry.CreatedAt, 0).UTC().Format("2006-01-02")
	}
	if te.WBSCode == "" {
		return nil, &sap.Error{Category: sap.CategoryValidation, Message: "no WBS code in payload or entry"}
	}
	return te, nil
}

// retryableFailure admits circuit-open rejections (the breaker may close
// before the attempts run out) and transient backend categories.
func retryableFailure(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	var sapErr *sap.Error
	if errors.As(err, &sapErr) {
		return sapErr.IsRetryable()
	}
	return false
}

// SubmitBatch submits each entry and returns per-entry outcomes. The batch
// itself never fails.
func (f *BatchForwarder) SubmitBatch(ctx context.Context, entries []storage.OutboxEntry) BatchResult {
	ctx, span := f.tracer.Start(ctx, "forwarder.submit_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(entries))))
	defer span.End()

	result := BatchResult{EntryResults: make([]EntryResult, 0, len(entries))}
	for i := range entries {
		entry := &entries[i]
		er := f.submitOne(ctx, entry)
		if er.Submitted {
			result.Successful++
		} else {
			result.Failed++
		}
		result.EntryResults = append(result.EntryResults, er)
	}

	span.SetAttributes(
		attribute.Int("batch.successful", result.Successful),
		attribute.Int("batch.failed", result.Failed),
	)
	return result
}

func (f *BatchForwarder) submitOne(ctx context.Context, entry *storage.OutboxEntry) EntryResult {
	te, err := f.convert(entry)
	if err != nil {
		f.logger.Info("outbox entry failed conversion", "entry_id", entry.ID, "error", err)
		return EntryResult{EntryID: entry.ID, Category: sap.Categorize(err), Err: err}
	}

	sapEntryID, err := resilience.Retry(ctx, f.retry, resilience.PredicateRetry(retryableFailure),
		func(ctx context.Context) (string, error) {
			return resilience.Execute(f.breaker, ctx, func(ctx context.Context) (string, error) {
				return f.client.ForwardEntry(ctx, te)
			})
		})
	if err != nil {
		// A breaker that stayed open through every attempt means the backend
		// is unreachable, not that the entry is bad.
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = &sap.Error{Category: sap.CategoryNetworkOffline, Message: "circuit open, backend unreachable", Err: err}
		}
		category := sap.Categorize(err)
		f.logger.Warn("time entry submission failed",
			"entry_id", entry.ID, "category", category.String(), "error", err)
		return EntryResult{EntryID: entry.ID, Category: category, Err: err}
	}

	return EntryResult{EntryID: entry.ID, Submitted: true, SapEntryID: sapEntryID}
}
