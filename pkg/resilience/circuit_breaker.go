package resilience

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsearc/core/pkg/clock"
	"github.com/pulsearc/core/pkg/collections"
)

// State is the breaker's admission state.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota
	// StateOpen rejects every call until the timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of trial calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a fixed-threshold breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold opens the breaker after this many consecutive failures.
	FailureThreshold int

	// SuccessThreshold closes a half-open breaker after this many consecutive
	// trial successes.
	SuccessThreshold int

	// Timeout is how long an open breaker waits before admitting trials.
	Timeout time.Duration

	// HalfOpenMaxCalls bounds concurrent trial calls while half-open.
	HalfOpenMaxCalls int

	// ResetOnSuccess resets the consecutive-failure count on a closed-state
	// success.
	ResetOnSuccess bool
}

// DefaultCircuitBreakerConfig returns the standard breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
		ResetOnSuccess:   true,
	}
}

// Validate rejects impossible breaker configurations.
func (c CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return &ConfigError{Field: "FailureThreshold", Reason: "must be positive"}
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

// CircuitBreakerMetrics is a point-in-time counter snapshot.
type CircuitBreakerMetrics struct {
	SuccessCount uint64
	FailureCount uint64
	TotalCalls   uint64
	State        State
}

// CircuitBreaker is a fixed-threshold breaker. It is a cheap handle over
// shared state and safe for concurrent use.
type CircuitBreaker struct {
	inner *breakerInner
}

type breakerInner struct {
	mu                  sync.RWMutex
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	halfOpenInFlight    int
	lastFailure         time.Time

	// failureThreshold is mutable so the adaptive variant can retune it.
	failureThreshold atomic.Int64

	cfg    CircuitBreakerConfig
	clk    clock.Clock
	logger *slog.Logger

	successCount atomic.Uint64
	failureCount atomic.Uint64
	totalCalls   atomic.Uint64
	latency      *collections.Histogram
}

// NewCircuitBreaker creates a breaker. A nil clock defaults to the system
// clock; a nil logger defaults to slog.Default().
func NewCircuitBreaker(cfg CircuitBreakerConfig, clk clock.Clock, logger *slog.Logger) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	inner := &breakerInner{
		state:   StateClosed,
		cfg:     cfg,
		clk:     clk,
		logger:  logger,
		latency: collections.NewHistogram(collections.DefaultHistogramCapacity),
	}
	inner.failureThreshold.Store(int64(cfg.FailureThreshold))
	return &CircuitBreaker{inner: inner}, nil
}

// Do runs op under the breaker's admission rules.
func (cb *CircuitBreaker) Do(ctx context.Context, op func(context.Context) error) error {
	in := cb.inner
	admitted, trial := in.admit()
	if !admitted {
		in.logger.Debug("circuit breaker rejected call", "state", cb.State().String())
		return ErrCircuitOpen
	}

	in.totalCalls.Add(1)
	start := in.clk.Now()
	err := op(ctx)
	in.latency.Record(in.clk.Now().Sub(start))

	if err != nil {
		in.onFailure(trial)
		return err
	}
	in.onSuccess(trial)
	return nil
}

// Execute runs a value-returning op under the breaker.
func Execute[T any](cb *CircuitBreaker, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Do(ctx, func(ctx context.Context) error {
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

// admit decides whether a call may proceed, transitioning Open to HalfOpen
// when the timeout has elapsed. The second return marks half-open trials so
// completion bookkeeping can release the slot.
func (in *breakerInner) admit() (admitted, trial bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch in.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if in.clk.Now().Sub(in.lastFailure) >= in.cfg.Timeout {
			in.transitionLocked(StateHalfOpen)
			in.halfOpenInFlight = 1
			return true, true
		}
		return false, false
	case StateHalfOpen:
		if in.halfOpenInFlight < in.cfg.HalfOpenMaxCalls {
			in.halfOpenInFlight++
			return true, true
		}
		return false, false
	}
	return false, false
}

func (in *breakerInner) onSuccess(trial bool) {
	in.successCount.Add(1)

	in.mu.Lock()
	defer in.mu.Unlock()

	if trial {
		in.halfOpenInFlight--
	}

	switch in.state {
	case StateClosed:
		if in.cfg.ResetOnSuccess {
			in.consecutiveFailures = 0
		}
	case StateOpen:
		// A success observed after the open timeout elapses counts as the
		// first half-open trial.
		if in.clk.Now().Sub(in.lastFailure) >= in.cfg.Timeout {
			in.transitionLocked(StateHalfOpen)
			in.halfOpenSuccesses++
			if in.halfOpenSuccesses >= in.cfg.SuccessThreshold {
				in.transitionLocked(StateClosed)
			}
		}
	case StateHalfOpen:
		in.halfOpenSuccesses++
		if in.halfOpenSuccesses >= in.cfg.SuccessThreshold {
			in.transitionLocked(StateClosed)
		}
	}
}

func (in *breakerInner) onFailure(trial bool) {
	in.failureCount.Add(1)

	in.mu.Lock()
	defer in.mu.Unlock()

	in.lastFailure = in.clk.Now()
	if trial {
		in.halfOpenInFlight--
	}

	switch in.state {
	case StateClosed:
		in.consecutiveFailures++
		if in.consecutiveFailures >= int(in.failureThreshold.Load()) {
			in.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// Any half-open failure reopens immediately.
		in.transitionLocked(StateOpen)
	}
}

func (in *breakerInner) transitionLocked(to State) {
	from := in.state
	if from == to {
		return
	}
	in.state = to

	switch to {
	case StateOpen:
		in.logger.Warn("circuit breaker opened",
			"consecutive_failures", in.consecutiveFailures,
			"threshold", in.failureThreshold.Load())
		in.halfOpenSuccesses = 0
		in.halfOpenInFlight = 0
	case StateHalfOpen:
		in.logger.Info("circuit breaker half-open, admitting trial calls")
		in.halfOpenSuccesses = 0
	case StateClosed:
		in.logger.Info("circuit breaker closed")
		in.consecutiveFailures = 0
		in.halfOpenSuccesses = 0
		in.halfOpenInFlight = 0
	}
}

// State returns the current admission state.
func (cb *CircuitBreaker) State() State {
	cb.inner.mu.RLock()
	defer cb.inner.mu.RUnlock()
	return cb.inner.state
}

// AllowsRequests reports whether a call made now could be admitted.
func (cb *CircuitBreaker) AllowsRequests() bool {
	in := cb.inner
	in.mu.RLock()
	defer in.mu.RUnlock()
	switch in.state {
	case StateClosed:
		return true
	case StateOpen:
		return in.clk.Now().Sub(in.lastFailure) >= in.cfg.Timeout
	case StateHalfOpen:
		return in.halfOpenInFlight < in.cfg.HalfOpenMaxCalls
	}
	return false
}

// RecordSuccess feeds an externally observed success into the breaker, for
// callers that cannot route the call through Do.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.inner.totalCalls.Add(1)
	cb.inner.onSuccess(false)
}

// RecordFailure feeds an externally observed failure into the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.inner.totalCalls.Add(1)
	cb.inner.onFailure(false)
}

// Metrics returns a counter snapshot.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	return CircuitBreakerMetrics{
		SuccessCount: cb.inner.successCount.Load(),
		FailureCount: cb.inner.failureCount.Load(),
		TotalCalls:   cb.inner.totalCalls.Load(),
		State:        cb.State(),
	}
}

// Latency returns a snapshot of the call-latency histogram.
func (cb *CircuitBreaker) Latency() (collections.HistogramSnapshot, bool) {
	return cb.inner.latency.Snapshot()
}

// FailureThreshold returns the current (possibly retuned) threshold.
func (cb *CircuitBreaker) FailureThreshold() int {
	return int(cb.inner.failureThreshold.Load())
}
