// Package cost tracks per-user AI spend against a monthly cap and decides
// which classification mode a user may run in. The cap is enforced by
// downgrading to rules-only classification, never by rejecting work.
package cost

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pulsearc/core/pkg/clock"
	"github.com/pulsearc/core/pkg/observability"
	"github.com/pulsearc/core/pkg/storage"
)

// ClassificationMode selects how activity batches get classified.
type ClassificationMode int

const (
	// ModeOpenAI sends batches to the paid model.
	ModeOpenAI ClassificationMode = iota

	// ModeRulesOnly classifies locally at zero marginal cost.
	ModeRulesOnly
)

func (m ClassificationMode) String() string {
	switch m {
	case ModeOpenAI:
		return "openai"
	case ModeRulesOnly:
		return "rules_only"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Rolling window for monthly aggregation and the variance alert bound.
const (
	monthlyWindow    = 30 * 24 * time.Hour
	varianceAlertPct = 20.0
	maxHistoryDays   = 90
)

// RateConfig prices tokens and bounds monthly spend. Rates are USD per
// million tokens.
type RateConfig struct {
	MaxMonthlyCostUSD float64
	AlertThresholdUSD float64
	RateInPerMillion  float64
	RateOutPerMillion float64
}

// DefaultRateConfig returns the standard cap and gpt-class pricing.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		MaxMonthlyCostUSD: 5.0,
		AlertThresholdUSD: 4.0,
		RateInPerMillion:  0.15,
		RateOutPerMillion: 0.60,
	}
}

// Validate rejects impossible rate configurations.
func (c RateConfig) Validate() error {
	if c.MaxMonthlyCostUSD <= 0 {
		return &ConfigError{Field: "MaxMonthlyCostUSD", Reason: "must be positive"}
	}
	if c.AlertThresholdUSD < 0 || c.AlertThresholdUSD > c.MaxMonthlyCostUSD {
		return &ConfigError{Field: "AlertThresholdUSD", Reason: "must be within [0, MaxMonthlyCostUSD]"}
	}
	if c.RateInPerMillion < 0 || c.RateOutPerMillion < 0 {
		return &ConfigError{Field: "RateInPerMillion", Reason: "rates cannot be negative"}
	}
	return nil
}

// ConfigError reports an invalid rate configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid cost config: %s %s", e.Field, e.Reason)
}

// UsageStore is the persistence port for usage rows. *storage.TokenUsageRepository
// satisfies it.
type UsageStore interface {
	Insert(ctx context.Context, u storage.TokenUsage) error
	SumCostSince(ctx context.Context, userID string, since int64) (float64, error)
	BatchTotals(ctx context.Context, batchID string, isActual bool) (storage.BatchTokenTotals, error)
	DailyCosts(ctx context.Context, userID string, since int64) ([]storage.DailyCost, error)
}

// VarianceReport compares a batch's estimated token usage against what the
// provider actually billed.
type VarianceReport struct {
	BatchID         string
	EstimatedTokens int64
	ActualTokens    int64
	VariancePct     float64
	Alert           bool
}

// Tracker aggregates usage rows into spend decisions.
type Tracker struct {
	store   UsageStore
	cfg     RateConfig
	clk     clock.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewTracker builds a tracker over the given store. A nil clock defaults to
// the system clock; a nil logger defaults to slog.Default().
func NewTracker(store UsageStore, cfg RateConfig, clk clock.Clock, logger *slog.Logger) (*Tracker, error) {
	if store == nil {
		return nil, &ConfigError{Field: "store", Reason: "cannot be nil"}
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
	return &Tracker{store: store, cfg: cfg, clk: clk, logger: logger}, nil
}

// WithMetrics attaches a metrics sink.
func (t *Tracker) WithMetrics(m *observability.Metrics) *Tracker {
	t.metrics = m
	return t
}

// CalculateCost prices a token pair in USD.
func (t *Tracker) CalculateCost(inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)*t.cfg.RateInPerMillion + float64(outputTokens)*t.cfg.RateOutPerMillion) / 1e6
}

// RecordUsage appends a usage row priced at the tracker's rates and returns
// the cost recorded.
func (t *Tracker) RecordUsage(ctx context.Context, batchID, userID string, inputTokens, outputTokens int64, isActual bool) (float64, error) {
	cost := t.CalculateCost(inputTokens, outputTokens)
	err := t.store.Insert(ctx, storage.TokenUsage{
		BatchID:          batchID,
		UserID:           userID,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		EstimatedCostUSD: cost,
		Timestamp:        t.clk.Now().Unix(),
		IsActual:         isActual,
	})
	if err != nil {
		return 0, err
	}
	return cost, nil
}

// MonthlyCost sums the user's spend over the trailing 30 days.
func (t *Tracker) MonthlyCost(ctx context.Context, userID string) (float64, error) {
	since := t.clk.Now().Add(-monthlyWindow).Unix()
	monthly, err := t.store.SumCostSince(ctx, userID, since)
	if err != nil {
		return 0, err
	}
	t.metrics.SetMonthlyCost(userID, monthly)
	return monthly, nil
}

// IsCostCapExceeded reports whether the user's monthly spend has reached the cap.
func (t *Tracker) IsCostCapExceeded(ctx context.Context, userID string) (bool, error) {
	monthly, err := t.MonthlyCost(ctx, userID)
	if err != nil {
		return false, err
	}
	return monthly >= t.cfg.MaxMonthlyCostUSD, nil
}

// ShouldAlertThreshold reports whether spend has crossed the alert threshold
// without yet reaching the cap.
func (t *Tracker) ShouldAlertThreshold(ctx context.Context, userID string) (bool, error) {
	monthly, err := t.MonthlyCost(ctx, userID)
	if err != nil {
		return false, err
	}
	return monthly >= t.cfg.AlertThresholdUSD && monthly < t.cfg.MaxMonthlyCostUSD, nil
}

// ClassificationMode returns RulesOnly iff the user's cap is exceeded.
func (t *Tracker) ClassificationMode(ctx context.Context, userID string) (ClassificationMode, error) {
	monthly, err := t.MonthlyCost(ctx, userID)
	if err != nil {
		return ModeOpenAI, err
	}
	if monthly >= t.cfg.MaxMonthlyCostUSD {
		t.logger.Warn("monthly cost cap exceeded, downgrading to rules-only",
			"user_id", userID,
			"monthly_cost_usd", monthly,
			"cap_usd", t.cfg.MaxMonthlyCostUSD)
		t.metrics.RecordCostDowngrade(userID)
		return ModeRulesOnly, nil
	}
	return ModeOpenAI, nil
}

// TokenVariance compares estimated vs actual token totals for a batch. The
// alert fires when the absolute variance exceeds 20%. A batch with no
// estimated rows reports zero variance.
func (t *Tracker) TokenVariance(ctx context.Context, batchID string) (VarianceReport, error) {
	estimated, err := t.store.BatchTotals(ctx, batchID, false)
	if err != nil {
		return VarianceReport{}, err
	}
	actual, err := t.store.BatchTotals(ctx, batchID, true)
	if err != nil {
		return VarianceReport{}, err
	}

	report := VarianceReport{
		BatchID:         batchID,
		EstimatedTokens: estimated.InputTokens + estimated.OutputTokens,
		ActualTokens:    actual.InputTokens + actual.OutputTokens,
	}
	if report.EstimatedTokens > 0 && actual.Rows > 0 {
		report.VariancePct = float64(report.ActualTokens-report.EstimatedTokens) / float64(report.EstimatedTokens) * 100
		report.Alert = math.Abs(report.VariancePct) > varianceAlertPct
	}
	if report.Alert {
		t.logger.Warn("token usage variance exceeds bound",
			"batch_id", batchID,
			"estimated_tokens", report.EstimatedTokens,
			"actual_tokens", report.ActualTokens,
			"variance_pct", report.VariancePct)
	}
	return report, nil
}

// HistoricalCosts returns per-day spend for the trailing days, clamped to 90.
func (t *Tracker) HistoricalCosts(ctx context.Context, userID string, days int) ([]storage.DailyCost, error) {
	if days <= 0 {
		days = 30
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}
	since := t.clk.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	return t.store.DailyCosts(ctx, userID, since)
}
