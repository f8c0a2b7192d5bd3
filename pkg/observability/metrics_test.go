package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.Nil(t, New(nil))

	// None of these may panic on a nil sink.
	m.RecordCacheHit("x")
	m.RecordCacheMiss("x")
	m.RecordCacheEviction("x")
	m.RecordCacheExpiration("x")
	m.SetQueueDepth(1, 2)
	m.RecordQueuePush("ok")
	m.RecordQueuePop()
	m.RecordQueueRetry()
	m.RecordQueueDrop()
	m.SetBreakerState("b", 1)
	m.RecordBreakerRejection("b")
	m.SetBreakerThreshold("b", 5)
	m.SetOutboxPending(3)
	m.RecordSchedulerJob("completed", time.Second)
	m.RecordEntryForwarded("submitted")
	m.SetMonthlyCost("u", 1.5)
	m.RecordCostDowngrade("u")
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.RecordCacheHit("wbs")
	m.RecordCacheHit("wbs")
	m.RecordCacheMiss("wbs")
	m.SetQueueDepth(7, 2)
	m.SetBreakerState("sap", 1)
	m.SetOutboxPending(12)
	m.RecordEntryForwarded("submitted")
	m.RecordEntryForwarded("validation")
	m.SetMonthlyCost("user-1", 3.25)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("wbs")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("wbs")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueProcessing))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("sap")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.OutboxPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesForwarded.WithLabelValues("validation")))
	assert.Equal(t, 3.25, testutil.ToFloat64(m.MonthlyCostUSD.WithLabelValues("user-1")))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = New(reg)
	assert.Panics(t, func() { New(reg) })
}
