package cost

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsearc/core/pkg/clock"
	"github.com/pulsearc/core/pkg/storage"
)

// memoryStore is an in-memory UsageStore for tests.
type memoryStore struct {
	mu   sync.Mutex
	rows []storage.TokenUsage
}

func (s *memoryStore) Insert(_ context.Context, u storage.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, u)
	return nil
}

func (s *memoryStore) SumCostSince(_ context.Context, userID string, since int64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, r := range s.rows {
		if r.UserID == userID && r.Timestamp >= since {
			total += r.EstimatedCostUSD
		}
	}
	return total, nil
}

func (s *memoryStore) BatchTotals(_ context.Context, batchID string, isActual bool) (storage.BatchTokenTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t storage.BatchTokenTotals
	for _, r := range s.rows {
		if r.BatchID == batchID && r.IsActual == isActual {
			t.InputTokens += r.InputTokens
			t.OutputTokens += r.OutputTokens
			t.Rows++
		}
	}
	return t, nil
}

func (s *memoryStore) DailyCosts(_ context.Context, userID string, since int64) ([]storage.DailyCost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDay := map[string]float64{}
	for _, r := range s.rows {
		if r.UserID == userID && r.Timestamp >= since {
			day := time.Unix(r.Timestamp, 0).UTC().Format("2006-01-02")
			byDay[day] += r.EstimatedCostUSD
		}
	}
	var out []storage.DailyCost
	for day, cost := range byDay {
		out = append(out, storage.DailyCost{Date: day, CostUSD: cost})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func newTestTracker(t *testing.T, cfg RateConfig) (*Tracker, *memoryStore, *clock.MockClock) {
	t.Helper()
	store := &memoryStore{}
	clk := clock.NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	tracker, err := NewTracker(store, cfg, clk, slog.Default())
	require.NoError(t, err)
	return tracker, store, clk
}

func TestRateConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RateConfig)
		wantErr bool
	}{
		{"defaults valid", func(c *RateConfig) {}, false},
		{"zero cap", func(c *RateConfig) { c.MaxMonthlyCostUSD = 0 }, true},
		{"negative cap", func(c *RateConfig) { c.MaxMonthlyCostUSD = -1 }, true},
		{"alert above cap", func(c *RateConfig) { c.AlertThresholdUSD = 10 }, true},
		{"negative rate", func(c *RateConfig) { c.RateOutPerMillion = -0.1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRateConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCalculateCost(t *testing.T) {
	tracker, _, _ := newTestTracker(t, DefaultRateConfig())

	assert.InDelta(t, 0.0, tracker.CalculateCost(0, 0), 1e-12)
	// 1M input at $0.15/M plus 1M output at $0.60/M.
	assert.InDelta(t, 0.75, tracker.CalculateCost(1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.00015, tracker.CalculateCost(1000, 0), 1e-12)
}

func TestRecordUsageAndMonthlyCost(t *testing.T) {
	tracker, store, clk := newTestTracker(t, DefaultRateConfig())
	ctx := context.Background()

	cost, err := tracker.RecordUsage(ctx, "batch-1", "user-1", 1_000_000, 0, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, cost, 1e-9)
	require.Len(t, store.rows, 1)
	assert.Equal(t, clk.Now().Unix(), store.rows[0].Timestamp)

	clk.Advance(10 * 24 * time.Hour)
	_, err = tracker.RecordUsage(ctx, "batch-2", "user-1", 0, 1_000_000, false)
	require.NoError(t, err)

	monthly, err := tracker.MonthlyCost(ctx, "user-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, monthly, 1e-9)

	t.Run("other users are isolated", func(t *testing.T) {
		monthly, err := tracker.MonthlyCost(ctx, "user-2")
		require.NoError(t, err)
		assert.Zero(t, monthly)
	})

	t.Run("rows age out of the rolling window", func(t *testing.T) {
		clk.Advance(25 * 24 * time.Hour)
		monthly, err := tracker.MonthlyCost(ctx, "user-1")
		require.NoError(t, err)
		// Only the second row (10 days later) is still inside 30 days.
		assert.InDelta(t, 0.60, monthly, 1e-9)
	})
}

func TestCapAndAlertThreshold(t *testing.T) {
	cfg := RateConfig{MaxMonthlyCostUSD: 1.0, AlertThresholdUSD: 0.5, RateInPerMillion: 1.0, RateOutPerMillion: 1.0}
	tracker, _, _ := newTestTracker(t, cfg)
	ctx := context.Background()

	t.Run("fresh user is under everything", func(t *testing.T) {
		exceeded, err := tracker.IsCostCapExceeded(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, exceeded)

		alert, err := tracker.ShouldAlertThreshold(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, alert)

		mode, err := tracker.ClassificationMode(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, ModeOpenAI, mode)
	})

	t.Run("between alert and cap", func(t *testing.T) {
		// 600k tokens at $1/M = $0.60.
		_, err := tracker.RecordUsage(ctx, "b1", "user-1", 600_000, 0, false)
		require.NoError(t, err)

		alert, err := tracker.ShouldAlertThreshold(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, alert)

		exceeded, err := tracker.IsCostCapExceeded(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, exceeded)

		mode, err := tracker.ClassificationMode(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, ModeOpenAI, mode)
	})

	t.Run("at the cap the mode downgrades", func(t *testing.T) {
		_, err := tracker.RecordUsage(ctx, "b2", "user-1", 400_000, 0, false)
		require.NoError(t, err)

		exceeded, err := tracker.IsCostCapExceeded(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, exceeded)

		// Alert window closes once the cap is reached.
		alert, err := tracker.ShouldAlertThreshold(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, alert)

		mode, err := tracker.ClassificationMode(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, ModeRulesOnly, mode)
	})
}

func TestTokenVariance(t *testing.T) {
	tracker, _, _ := newTestTracker(t, DefaultRateConfig())
	ctx := context.Background()

	t.Run("no rows reports zero", func(t *testing.T) {
		report, err := tracker.TokenVariance(ctx, "empty")
		require.NoError(t, err)
		assert.Zero(t, report.VariancePct)
		assert.False(t, report.Alert)
	})

	t.Run("within bound", func(t *testing.T) {
		_, err := tracker.RecordUsage(ctx, "b1", "u", 1000, 0, false)
		require.NoError(t, err)
		_, err = tracker.RecordUsage(ctx, "b1", "u", 1100, 0, true)
		require.NoError(t, err)

		report, err := tracker.TokenVariance(ctx, "b1")
		require.NoError(t, err)
		assert.InDelta(t, 10.0, report.VariancePct, 1e-9)
		assert.False(t, report.Alert)
	})

	t.Run("overshoot fires the alert", func(t *testing.T) {
		_, err := tracker.RecordUsage(ctx, "b2", "u", 1000, 0, false)
		require.NoError(t, err)
		_, err = tracker.RecordUsage(ctx, "b2", "u", 1300, 0, true)
		require.NoError(t, err)

		report, err := tracker.TokenVariance(ctx, "b2")
		require.NoError(t, err)
		assert.InDelta(t, 30.0, report.VariancePct, 1e-9)
		assert.True(t, report.Alert)
	})

	t.Run("undershoot fires the alert too", func(t *testing.T) {
		_, err := tracker.RecordUsage(ctx, "b3", "u", 1000, 0, false)
		require.NoError(t, err)
		_, err = tracker.RecordUsage(ctx, "b3", "u", 700, 0, true)
		require.NoError(t, err)

		report, err := tracker.TokenVariance(ctx, "b3")
		require.NoError(t, err)
		assert.InDelta(t, -30.0, report.VariancePct, 1e-9)
		assert.True(t, report.Alert)
	})
}

func TestHistoricalCosts(t *testing.T) {
	tracker, _, clk := newTestTracker(t, DefaultRateConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := tracker.RecordUsage(ctx, "b", "user-1", 1_000_000, 0, false)
		require.NoError(t, err)
		clk.Advance(24 * time.Hour)
	}

	costs, err := tracker.HistoricalCosts(ctx, "user-1", 30)
	require.NoError(t, err)
	require.Len(t, costs, 3)
	assert.Equal(t, "2025-06-15", costs[0].Date)
	assert.InDelta(t, 0.15, costs[0].CostUSD, 1e-9)

	t.Run("days clamp to 90", func(t *testing.T) {
		costs, err := tracker.HistoricalCosts(ctx, "user-1", 500)
		require.NoError(t, err)
		assert.Len(t, costs, 3)
	})

	t.Run("non-positive days defaults to 30", func(t *testing.T) {
		costs, err := tracker.HistoricalCosts(ctx, "user-1", 0)
		require.NoError(t, err)
		assert.Len(t, costs, 3)
	})
}

func TestNewTrackerValidation(t *testing.T) {
	_, err := NewTracker(nil, DefaultRateConfig(), nil, nil)
	assert.Error(t, err)

	_, err = NewTracker(&memoryStore{}, RateConfig{}, nil, nil)
	assert.Error(t, err)
}
