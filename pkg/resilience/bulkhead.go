package resilience

import (
	"context"
	"sync/atomic"
)

// Bulkhead caps the number of concurrent calls to a protected resource.
// Saturation is reported immediately as ErrBulkheadFull rather than queueing.
type Bulkhead struct {
	slots    chan struct{}
	rejected atomic.Uint64
}

// NewBulkhead creates a bulkhead admitting up to maxConcurrent calls.
func NewBulkhead(maxConcurrent int) (*Bulkhead, error) {
	if maxConcurrent <= 0 {
		return nil, &ConfigError{Field: "MaxConcurrent", Reason: "must be positive"}
	}
	return &Bulkhead{slots: make(chan struct{}, maxConcurrent)}, nil
}

// Do runs op if a slot is free, otherwise returns ErrBulkheadFull.
func (b *Bulkhead) Do(ctx context.Context, op func(context.Context) error) error {
	select {
	case b.slots <- struct{}{}:
	default:
		b.rejected.Add(1)
		return ErrBulkheadFull
	}
	defer func() { <-b.slots }()
	return op(ctx)
}

// InFlight returns the number of currently admitted calls.
func (b *Bulkhead) InFlight() int {
	return len(b.slots)
}

// Rejected returns how many calls were refused at saturation.
func (b *Bulkhead) Rejected() uint64 {
	return b.rejected.Load()
}
