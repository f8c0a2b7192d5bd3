package resilience

import (
	"context"
	"math/rand"
	"time"
)

// BackoffStrategy computes the base delay before a given attempt's retry.
type BackoffStrategy int

const (
	// BackoffFixed waits the same delay between attempts.
	BackoffFixed BackoffStrategy = iota
	// BackoffLinear waits base + step*(attempt-1).
	BackoffLinear
	// BackoffExponential waits base * multiplier^(attempt-1), capped.
	BackoffExponential
	// BackoffDecorrelated picks each delay in [base, 3*previous], capped.
	// The previous delay is carried across attempts.
	BackoffDecorrelated
)

// JitterKind randomizes computed delays to de-synchronize clients.
type JitterKind int

const (
	// JitterNone leaves delays unchanged.
	JitterNone JitterKind = iota
	// JitterFull picks uniformly in [0, delay].
	JitterFull
	// JitterEqual picks uniformly in [delay/2, delay].
	JitterEqual
)

// RetryConfig is an immutable retry plan built with the With* setters.
type RetryConfig struct {
	maxAttempts  int
	strategy     BackoffStrategy
	baseDelay    time.Duration
	step         time.Duration
	multiplier   float64
	maxDelay     time.Duration
	jitter       JitterKind
	maxTotalTime time.Duration
	seed         int64
	seeded       bool
}

// NewRetryConfig returns a plan with 3 attempts and fixed 100ms backoff.
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		maxAttempts: 3,
		strategy:    BackoffFixed,
		baseDelay:   100 * time.Millisecond,
		multiplier:  2.0,
		maxDelay:    30 * time.Second,
	}
}

// WithMaxAttempts sets the total attempt budget (counting the first call).
func (c RetryConfig) WithMaxAttempts(n int) RetryConfig {
	c.maxAttempts = n
	return c
}

// WithFixedDelay selects a constant backoff.
func (c RetryConfig) WithFixedDelay(d time.Duration) RetryConfig {
	c.strategy = BackoffFixed
	c.baseDelay = d
	return c
}

// WithLinearBackoff selects base + step*(attempt-1) backoff.
func (c RetryConfig) WithLinearBackoff(base, step time.Duration) RetryConfig {
	c.strategy = BackoffLinear
	c.baseDelay = base
	c.step = step
	return c
}

// WithExponentialBackoff selects base * multiplier^(attempt-1), capped at cap.
func (c RetryConfig) WithExponentialBackoff(base time.Duration, multiplier float64, cap time.Duration) RetryConfig {
	c.strategy = BackoffExponential
	c.baseDelay = base
	c.multiplier = multiplier
	c.maxDelay = cap
	return c
}

// WithDecorrelatedBackoff selects decorrelated jitter backoff seeded for
// reproducibility.
func (c RetryConfig) WithDecorrelatedBackoff(base, cap time.Duration, seed int64) RetryConfig {
	c.strategy = BackoffDecorrelated
	c.baseDelay = base
	c.maxDelay = cap
	c.seed = seed
	c.seeded = true
	return c
}

// WithJitter applies jitter on top of the computed delay. Ignored by the
// decorrelated strategy, which is jittered by construction.
func (c RetryConfig) WithJitter(k JitterKind) RetryConfig {
	c.jitter = k
	return c
}

// WithMaxDelay caps every computed delay.
func (c RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	c.maxDelay = d
	return c
}

// WithMaxTotalTime sets a hard deadline across all attempts and sleeps.
func (c RetryConfig) WithMaxTotalTime(d time.Duration) RetryConfig {
	c.maxTotalTime = d
	return c
}

// Validate rejects impossible plans.
func (c RetryConfig) Validate() error {
	if c.maxAttempts <= 0 {
		return &ConfigError{Field: "MaxAttempts", Reason: "must be positive"}
	}
	if c.baseDelay < 0 {
		return &ConfigError{Field: "BaseDelay", Reason: "cannot be negative"}
	}
	if c.strategy == BackoffExponential && c.multiplier < 1 {
		return &ConfigError{Field: "Multiplier", Reason: "must be at least 1"}
	}
	return nil
}

// RetryPolicy decides whether a failed attempt should be retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
}

// AlwaysRetry retries every retryable-budget failure.
type AlwaysRetry struct{}

func (AlwaysRetry) ShouldRetry(error, int) bool { return true }

// PredicateRetry retries when the predicate accepts the error.
type PredicateRetry func(error) bool

func (p PredicateRetry) ShouldRetry(err error, _ int) bool { return p(err) }

// backoffState carries the decorrelated previous delay across attempts.
type backoffState struct {
	rng  *rand.Rand
	prev time.Duration
}

func (c RetryConfig) newState() *backoffState {
	seed := c.seed
	if !c.seeded {
		seed = time.Now().UnixNano()
	}
	return &backoffState{rng: rand.New(rand.NewSource(seed)), prev: c.baseDelay}
}

// delayFor computes the post-jitter delay before retrying attempt+1.
// Attempts count from 1.
func (c RetryConfig) delayFor(attempt int, st *backoffState) time.Duration {
	var d time.Duration
	switch c.strategy {
	case BackoffFixed:
		d = c.baseDelay
	case BackoffLinear:
		d = c.baseDelay + time.Duration(attempt-1)*c.step
	case BackoffExponential:
		f := float64(c.baseDelay)
		for i := 1; i < attempt; i++ {
			f *= c.multiplier
			if c.maxDelay > 0 && f >= float64(c.maxDelay) {
				f = float64(c.maxDelay)
				break
			}
		}
		d = time.Duration(f)
	case BackoffDecorrelated:
		hi := 3 * st.prev
		if c.maxDelay > 0 && hi > c.maxDelay {
			hi = c.maxDelay
		}
		if hi <= c.baseDelay {
			d = c.baseDelay
		} else {
			d = c.baseDelay + time.Duration(st.rng.Int63n(int64(hi-c.baseDelay)+1))
		}
		st.prev = d
		return d // decorrelated is jittered by construction
	}

	if c.maxDelay > 0 && d > c.maxDelay {
		d = c.maxDelay
	}

	switch c.jitter {
	case JitterFull:
		if d > 0 {
			d = time.Duration(st.rng.Int63n(int64(d) + 1))
		}
	case JitterEqual:
		if d > 0 {
			half := d / 2
			d = half + time.Duration(st.rng.Int63n(int64(half)+1))
		}
	}
	return d
}

// Retry runs op under the plan. Attempts count from 1; the first invocation
// consumes attempt 1. After a failure the policy is consulted, the delay is
// computed and slept, and the loop continues until the attempt budget, the
// policy, the total-time deadline, or the context stops it. The last error is
// returned on exhaustion.
func Retry[T any](ctx context.Context, cfg RetryConfig, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cfg.Validate(); err != nil {
		return zero, err
	}
	if policy == nil {
		policy = AlwaysRetry{}
	}

	start := time.Now()
	st := cfg.newState()

	var lastErr error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt >= cfg.maxAttempts {
			break
		}
		if !policy.ShouldRetry(err, attempt) {
			break
		}

		delay := cfg.delayFor(attempt, st)
		if cfg.maxTotalTime > 0 && time.Since(start)+delay > cfg.maxTotalTime {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
