// Package resilience provides the call-protection primitives the rest of the
// core builds on: retry with typed backoff and jitter, fixed and adaptive
// circuit breakers, a bulkhead, and a token-bucket rate limiter.
package resilience

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is returned when a breaker refuses a call.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout is returned when a protected call exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrRateLimitExceeded is returned when the limiter has no tokens.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is saturated.
	ErrBulkheadFull = errors.New("bulkhead is full")
)

// ConfigError reports an invalid configuration field. Construction-time only;
// call paths never produce it.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}
