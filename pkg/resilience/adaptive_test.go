package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptiveConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AdaptiveCircuitBreakerConfig)
	}{
		{"zero initial", func(c *AdaptiveCircuitBreakerConfig) { c.InitialFailureThreshold = 0 }},
		{"zero min", func(c *AdaptiveCircuitBreakerConfig) { c.MinFailureThreshold = 0 }},
		{"max below min", func(c *AdaptiveCircuitBreakerConfig) { c.MaxFailureThreshold = 1; c.MinFailureThreshold = 5 }},
		{"initial out of range", func(c *AdaptiveCircuitBreakerConfig) { c.InitialFailureThreshold = 100 }},
		{"negative target rate", func(c *AdaptiveCircuitBreakerConfig) { c.TargetErrorRate = -0.1 }},
		{"target rate above one", func(c *AdaptiveCircuitBreakerConfig) { c.TargetErrorRate = 1.5 }},
		{"zero window", func(c *AdaptiveCircuitBreakerConfig) { c.WindowSize = 0 }},
		{"zero interval", func(c *AdaptiveCircuitBreakerConfig) { c.AdjustmentInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAdaptiveCircuitBreakerConfig()
			tt.mutate(&cfg)
			_, err := NewAdaptiveCircuitBreaker(cfg, nil, nil)
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestAdaptiveThresholdDownshift(t *testing.T) {
	// High observed error rate must tighten the threshold below its start.
	cfg := AdaptiveCircuitBreakerConfig{
		InitialFailureThreshold: 5,
		MinFailureThreshold:     2,
		MaxFailureThreshold:     10,
		TargetErrorRate:         0.10,
		WindowSize:              20,
		AdjustmentInterval:      100 * time.Millisecond,
		SuccessThreshold:        2,
		Timeout:                 time.Minute,
		HalfOpenMaxCalls:        1,
	}
	clk := newTestClock()
	a, err := NewAdaptiveCircuitBreaker(cfg, clk, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// 20 operations at 50% failure, alternating so the breaker stays closed.
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			_ = a.Do(ctx, okOp)
		} else {
			_ = a.Do(ctx, failOp)
		}
	}
	require.Equal(t, StateClosed, a.State())

	clk.Advance(150 * time.Millisecond)
	_ = a.Do(ctx, failOp)

	assert.Greater(t, a.ThresholdAdjustments(), uint64(0))
	assert.Less(t, a.CurrentFailureThreshold(), 5)
}

func TestAdaptiveThresholdUpshift(t *testing.T) {
	cfg := DefaultAdaptiveCircuitBreakerConfig()
	cfg.InitialFailureThreshold = 5
	cfg.MaxFailureThreshold = 10
	cfg.TargetErrorRate = 0.5
	cfg.AdjustmentInterval = 100 * time.Millisecond
	clk := newTestClock()
	a, err := NewAdaptiveCircuitBreaker(cfg, clk, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Zero error rate, well below target/2: threshold relaxes upward.
	for i := 0; i < 10; i++ {
		_ = a.Do(ctx, okOp)
	}
	clk.Advance(150 * time.Millisecond)
	_ = a.Do(ctx, okOp)

	assert.Equal(t, 6, a.CurrentFailureThreshold())
	assert.Equal(t, uint64(1), a.ThresholdAdjustments())
}

func TestAdaptiveHoldsSteadyBetweenBands(t *testing.T) {
	// Error rate between target/2 and target: intentional hysteresis, no move.
	cfg := DefaultAdaptiveCircuitBreakerConfig()
	cfg.TargetErrorRate = 0.6
	cfg.InitialFailureThreshold = 5
	cfg.AdjustmentInterval = 100 * time.Millisecond
	clk := newTestClock()
	a, err := NewAdaptiveCircuitBreaker(cfg, clk, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// 40% error rate: above 0.3, below 0.6.
	for i := 0; i < 10; i++ {
		if i%5 < 2 {
			_ = a.Do(ctx, failOp)
		} else {
			_ = a.Do(ctx, okOp)
		}
	}
	clk.Advance(150 * time.Millisecond)
	_ = a.Do(ctx, okOp)

	assert.Equal(t, 5, a.CurrentFailureThreshold())
}

func TestAdaptiveRespectsMinimum(t *testing.T) {
	cfg := DefaultAdaptiveCircuitBreakerConfig()
	cfg.InitialFailureThreshold = 3
	cfg.MinFailureThreshold = 3
	cfg.TargetErrorRate = 0.01
	cfg.AdjustmentInterval = 10 * time.Millisecond
	cfg.Timeout = time.Minute
	clk := newTestClock()
	a, err := NewAdaptiveCircuitBreaker(cfg, clk, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		a.RecordSuccess()
		a.RecordFailure()
		clk.Advance(20 * time.Millisecond)
	}

	assert.Equal(t, 3, a.CurrentFailureThreshold())
	assert.Equal(t, uint64(0), a.ThresholdAdjustments())
}

func TestAdaptiveRateLimitsAdjustments(t *testing.T) {
	cfg := DefaultAdaptiveCircuitBreakerConfig()
	cfg.InitialFailureThreshold = 10
	cfg.MinFailureThreshold = 2
	cfg.TargetErrorRate = 0.05
	cfg.AdjustmentInterval = time.Minute
	cfg.Timeout = time.Hour
	clk := newTestClock()
	a, err := NewAdaptiveCircuitBreaker(cfg, clk, nil)
	require.NoError(t, err)

	// Many failures inside one interval: at most one adjustment fires.
	clk.Advance(2 * time.Minute)
	for i := 0; i < 8; i++ {
		a.RecordFailure()
	}
	assert.Equal(t, uint64(1), a.ThresholdAdjustments())
	assert.Equal(t, 9, a.CurrentFailureThreshold())
}
