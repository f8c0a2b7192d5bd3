package sap

import (
	"context"
	"time"

	"github.com/pulsearc/core/pkg/cache"
	"github.com/pulsearc/core/pkg/clock"
)

// WBSValidator fronts Client.ValidateWBS with a TTL cache so repeated
// lookups of the same code during a batch don't hit the backend. Only
// definitive answers are cached; transport failures are not.
type WBSValidator struct {
	client Client
	codes  cache.Cache[string, bool]
}

// NewWBSValidator builds a validator caching up to maxCodes answers for ttl.
func NewWBSValidator(client Client, maxCodes int, ttl time.Duration, clk clock.Clock) (*WBSValidator, error) {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	codes, err := cache.New[string, bool](cache.Config{
		MaxSize:        maxCodes,
		TTL:            ttl,
		EvictionPolicy: cache.LRU,
		TrackMetrics:   true,
	}, clk)
	if err != nil {
		return nil, err
	}
	return &WBSValidator{client: client, codes: codes}, nil
}

// ValidateWBS returns the cached answer or asks the backend.
func (v *WBSValidator) ValidateWBS(ctx context.Context, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	if valid, ok := v.codes.Get(code); ok {
		return valid, nil
	}
	valid, err := v.client.ValidateWBS(ctx, code)
	if err != nil {
		return false, err
	}
	v.codes.Insert(code, valid)
	return valid, nil
}

// Invalidate drops one cached code.
func (v *WBSValidator) Invalidate(code string) {
	v.codes.Remove(code)
}

// CacheStats exposes hit/miss counters for observability.
func (v *WBSValidator) CacheStats() cache.Stats {
	return v.codes.Stats()
}
