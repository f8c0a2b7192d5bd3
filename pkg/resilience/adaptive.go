package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsearc/core/pkg/clock"
)

// AdaptiveCircuitBreakerConfig configures a breaker whose failure threshold
// is retuned from a sliding window of recent outcomes.
type AdaptiveCircuitBreakerConfig struct {
	// InitialFailureThreshold is the starting threshold.
	InitialFailureThreshold int

	// MinFailureThreshold / MaxFailureThreshold clamp the retuned value.
	MinFailureThreshold int
	MaxFailureThreshold int

	// TargetErrorRate in [0,1]. Above it the threshold tightens by one; below
	// half of it the threshold relaxes by one. In between it holds steady.
	TargetErrorRate float64

	// WindowSize bounds the outcome ring.
	WindowSize int

	// AdjustmentInterval rate-limits retuning.
	AdjustmentInterval time.Duration

	// SuccessThreshold, Timeout, HalfOpenMaxCalls mirror the fixed breaker.
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

// DefaultAdaptiveCircuitBreakerConfig returns the standard adaptive settings.
func DefaultAdaptiveCircuitBreakerConfig() AdaptiveCircuitBreakerConfig {
	return AdaptiveCircuitBreakerConfig{
		InitialFailureThreshold: 5,
		MinFailureThreshold:     2,
		MaxFailureThreshold:     20,
		TargetErrorRate:         0.10,
		WindowSize:              100,
		AdjustmentInterval:      30 * time.Second,
		SuccessThreshold:        2,
		Timeout:                 30 * time.Second,
		HalfOpenMaxCalls:        1,
	}
}

// Validate rejects impossible adaptive configurations.
func (c AdaptiveCircuitBreakerConfig) Validate() error {
	if c.InitialFailureThreshold <= 0 {
		return &ConfigError{Field: "InitialFailureThreshold", Reason: "must be positive"}
	}
	if c.MinFailureThreshold <= 0 {
		return &ConfigError{Field: "MinFailureThreshold", Reason: "must be positive"}
	}
	if c.MaxFailureThreshold < c.MinFailureThreshold {
		return &ConfigError{Field: "MaxFailureThreshold", Reason: "must be at least MinFailureThreshold"}
	}
	if c.InitialFailureThreshold < c.MinFailureThreshold || c.InitialFailureThreshold > c.MaxFailureThreshold {
		return &ConfigError{Field: "InitialFailureThreshold", Reason: "must be within [min, max]"}
	}
	if c.TargetErrorRate < 0 || c.TargetErrorRate > 1 {
		return &ConfigError{Field: "TargetErrorRate", Reason: "must be within [0, 1]"}
	}
	if c.WindowSize <= 0 {
		return &ConfigError{Field: "WindowSize", Reason: "must be positive"}
	}
	if c.AdjustmentInterval <= 0 {
		return &ConfigError{Field: "AdjustmentInterval", Reason: "must be positive"}
	}
	if c.SuccessThreshold <= 0 {
		return &ConfigError{Field: "SuccessThreshold", Reason: "must be positive"}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Field: "Timeout", Reason: "must be positive"}
	}
	if c.HalfOpenMaxCalls <= 0 {
		return &ConfigError{Field: "HalfOpenMaxCalls", Reason: "must be positive"}
	}
	return nil
}

// AdaptiveCircuitBreaker wraps a fixed breaker and retunes its failure
// threshold toward a target error rate observed over a sliding window.
type AdaptiveCircuitBreaker struct {
	cb  *CircuitBreaker
	cfg AdaptiveCircuitBreakerConfig
	clk clock.Clock

	mu             sync.Mutex
	window         []bool // true = failure
	lastAdjustment time.Time

	adjustments atomic.Uint64
	logger      *slog.Logger
}

// NewAdaptiveCircuitBreaker creates an adaptive breaker. A nil clock defaults
// to the system clock; a nil logger defaults to slog.Default().
func NewAdaptiveCircuitBreaker(cfg AdaptiveCircuitBreakerConfig, clk clock.Clock, logger *slog.Logger) (*AdaptiveCircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb, err := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: cfg.InitialFailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		Timeout:          cfg.Timeout,
		HalfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		ResetOnSuccess:   true,
	}, clk, logger)
	if err != nil {
		return nil, err
	}

	return &AdaptiveCircuitBreaker{
		cb:             cb,
		cfg:            cfg,
		clk:            clk,
		lastAdjustment: clk.Now(),
		logger:         logger,
	}, nil
}

// Do runs op under the breaker. Executed outcomes (not rejections) feed the
// sliding window and may trigger a threshold adjustment.
func (a *AdaptiveCircuitBreaker) Do(ctx context.Context, op func(context.Context) error) error {
	err := a.cb.Do(ctx, op)
	if errors.Is(err, ErrCircuitOpen) {
		return err
	}
	a.recordOutcome(err != nil)
	return err
}

// ExecuteAdaptive runs a value-returning op under an adaptive breaker.
func ExecuteAdaptive[T any](a *AdaptiveCircuitBreaker, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := a.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// RecordSuccess feeds an external success into both the breaker and the
// window.
func (a *AdaptiveCircuitBreaker) RecordSuccess() {
	a.cb.RecordSuccess()
	a.recordOutcome(false)
}

// RecordFailure feeds an external failure into both the breaker and the
// window.
func (a *AdaptiveCircuitBreaker) RecordFailure() {
	a.cb.RecordFailure()
	a.recordOutcome(true)
}

func (a *AdaptiveCircuitBreaker) recordOutcome(failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window = append(a.window, failed)
	if over := len(a.window) - a.cfg.WindowSize; over > 0 {
		a.window = a.window[over:]
	}

	now := a.clk.Now()
	if now.Sub(a.lastAdjustment) < a.cfg.AdjustmentInterval || len(a.window) == 0 {
		return
	}
	a.lastAdjustment = now

	failures := 0
	for _, f := range a.window {
		if f {
			failures++
		}
	}
	errorRate := float64(failures) / float64(len(a.window))

	current := int(a.cb.inner.failureThreshold.Load())
	next := current
	switch {
	case errorRate > a.cfg.TargetErrorRate:
		if current > a.cfg.MinFailureThreshold {
			next = current - 1
		}
	case errorRate < a.cfg.TargetErrorRate/2:
		if current < a.cfg.MaxFailureThreshold {
			next = current + 1
		}
	}
	if next != current {
		a.cb.inner.failureThreshold.Store(int64(next))
		a.adjustments.Add(1)
		a.logger.Info("adaptive breaker retuned failure threshold",
			"error_rate", errorRate, "from", current, "to", next)
	}
}

// State returns the current admission state.
func (a *AdaptiveCircuitBreaker) State() State { return a.cb.State() }

// AllowsRequests reports whether a call made now could be admitted.
func (a *AdaptiveCircuitBreaker) AllowsRequests() bool { return a.cb.AllowsRequests() }

// CurrentFailureThreshold returns the retuned threshold.
func (a *AdaptiveCircuitBreaker) CurrentFailureThreshold() int { return a.cb.FailureThreshold() }

// ThresholdAdjustments returns how many retunings have occurred.
func (a *AdaptiveCircuitBreaker) ThresholdAdjustments() uint64 { return a.adjustments.Load() }

// Metrics returns the underlying breaker's counter snapshot.
func (a *AdaptiveCircuitBreaker) Metrics() CircuitBreakerMetrics { return a.cb.Metrics() }
