package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemClock(t *testing.T) {
	c := NewSystemClock()

	before := time.Now().Add(-time.Second)
	now := c.Now()
	after := time.Now().Add(time.Second)

	assert.True(t, now.After(before))
	assert.True(t, now.Before(after))
	assert.InDelta(t, time.Now().UnixMilli(), c.MillisSinceEpoch(), 2000)
}

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	t.Run("starts at the given instant", func(t *testing.T) {
		require.Equal(t, start, c.Now())
		require.Equal(t, start.UnixMilli(), c.MillisSinceEpoch())
	})

	t.Run("advance moves forward", func(t *testing.T) {
		c.Advance(90 * time.Second)
		assert.Equal(t, start.Add(90*time.Second), c.Now())
	})

	t.Run("set jumps to absolute time", func(t *testing.T) {
		target := start.Add(24 * time.Hour)
		c.Set(target)
		assert.Equal(t, target, c.Now())
	})
}
