// Package clock provides a time source abstraction so that components
// depending on wall-clock time can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock is the time capability injected into every time-dependent component.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time

	// MillisSinceEpoch returns the current Unix time in milliseconds.
	MillisSinceEpoch() int64
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// NewSystemClock returns the production clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

func (c *SystemClock) MillisSinceEpoch() int64 {
	return time.Now().UnixMilli()
}

// MockClock is a manually-advanced clock for tests.
// All methods are safe for concurrent use.
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockClock creates a mock clock starting at the given instant.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *MockClock) MillisSinceEpoch() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now.UnixMilli()
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to an absolute instant.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
