package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/pulsearc/core/pkg/clock"
)

// RateLimiter is a token bucket: capacity tokens, refilled at ratePerSecond.
// Acquire fails immediately with ErrRateLimitExceeded when empty.
type RateLimiter struct {
	mu            sync.Mutex
	tokens        float64
	capacity      float64
	ratePerSecond float64
	lastRefill    time.Time
	clk           clock.Clock
}

// NewRateLimiter creates a full bucket. A nil clock defaults to the system
// clock.
func NewRateLimiter(capacity int, ratePerSecond float64, clk clock.Clock) (*RateLimiter, error) {
	if capacity <= 0 {
		return nil, &ConfigError{Field: "Capacity", Reason: "must be positive"}
	}
	if ratePerSecond <= 0 {
		return nil, &ConfigError{Field: "RatePerSecond", Reason: "must be positive"}
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &RateLimiter{
		tokens:        float64(capacity),
		capacity:      float64(capacity),
		ratePerSecond: ratePerSecond,
		lastRefill:    clk.Now(),
		clk:           clk,
	}, nil
}

func (r *RateLimiter) refillLocked() {
	now := r.clk.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	r.tokens += elapsed * r.ratePerSecond
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
	r.lastRefill = now
}

// TryAcquire takes one token, reporting whether one was available.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillLocked()
	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// Do runs op if a token is available, otherwise returns ErrRateLimitExceeded.
func (r *RateLimiter) Do(ctx context.Context, op func(context.Context) error) error {
	if !r.TryAcquire() {
		return ErrRateLimitExceeded
	}
	return op(ctx)
}

// Available returns the current whole-token count.
func (r *RateLimiter) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillLocked()
	return int(r.tokens)
}
