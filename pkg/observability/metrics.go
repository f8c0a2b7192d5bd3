// Package observability exposes Prometheus metrics for the core components.
// Everything is dependency-injected: components take a *Metrics and work
// fine with nil.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the core components report into.
type Metrics struct {
	// Cache metrics, labelled by cache name.
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheEvictions   *prometheus.CounterVec
	CacheExpirations *prometheus.CounterVec

	// Sync queue metrics.
	QueueDepth      prometheus.Gauge
	QueueProcessing prometheus.Gauge
	QueuePushes     *prometheus.CounterVec
	QueuePops       prometheus.Counter
	QueueRetries    prometheus.Counter
	QueueDropped    prometheus.Counter

	// Circuit breaker metrics, labelled by breaker name.
	BreakerState      *prometheus.GaugeVec
	BreakerRejections *prometheus.CounterVec
	BreakerThreshold  *prometheus.GaugeVec

	// Outbox and scheduler metrics.
	OutboxPending        prometheus.Gauge
	SchedulerJobDuration prometheus.Histogram
	SchedulerJobsTotal   *prometheus.CounterVec
	EntriesForwarded     *prometheus.CounterVec

	// Cost metrics, labelled by user.
	MonthlyCostUSD *prometheus.GaugeVec
	CostDowngrades *prometheus.CounterVec
}

// New registers all collectors with the given registerer. A nil registerer
// returns nil, which every recording method accepts.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsearc_cache_hits_total",
			Help: "Cache lookups that found a live entry",
		}, []string{"cache"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsearc_cache_misses_total",
			Help: "Cache lookups that found nothing",
		}, []string{"cache"}),
		CacheEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsearc_cache_evictions_total",
			Help: "Entries evicted to make room",
		}, []string{"cache"}),
		CacheExpirations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsearc_cache_expirations_total",
			Help: "Entries removed after TTL expiry",
		}, []string{"cache"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulsearc_sync_queue_depth",
			Help: "Items waiting in the sync queue",
		}),
		QueueProcessing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulsearc_sync_queue_processing",
			Help: "Items currently being processed",
		}),
		QueuePushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsearc_sync_queue_pushes_total",
			Help: "Push attempts by outcome",
		}, []string{"outcome"}),
		QueuePops: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulsearc_sync_queue_pops_total",
			Help: "Items handed to consumers",
		}),
		QueueRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulsearc_sync_queue_retries_total",
			Help: "Items rescheduled after a failure",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulsearc_sync_queue_dropped_total",
			Help: "Items dropped after exhausting retries",
		}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulsearc_breaker_state",
			Help: "Breaker state: 0 closed, 1 open, 2 half-open",
		}, []string{"breaker"}),
		BreakerRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsearc_breaker_rejections_total",
			Help: "Calls rejected while the breaker was open",
		}, []string{"breaker"}),
		BreakerThreshold: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulsearc_breaker_failure_threshold",
			Help: "Current failure threshold (adaptive breakers retune this)",
		}, []string{"breaker"}),

		OutboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulsearc_outbox_pending",
			Help: "Outbox entries awaiting delivery",
		}),
		SchedulerJobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsearc_scheduler_job_duration_seconds",
			Help:    "Wall time of one outbox forwarding run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		SchedulerJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsearc_scheduler_jobs_total",
			Help: "Forwarding runs by outcome",
		}, []string{"outcome"}),
		EntriesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsearc_entries_forwarded_total",
			Help: "Per-entry submission outcomes",
		}, []string{"result"}),

		MonthlyCostUSD: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulsearc_monthly_cost_usd",
			Help: "Rolling 30-day spend per user",
		}, []string{"user"}),
		CostDowngrades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsearc_cost_downgrades_total",
			Help: "Classification-mode downgrades per user",
		}, []string{"user"}),
	}
}

// Every recording method tolerates a nil receiver so callers never need a
// metrics guard.

func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordCacheEviction(cache string) {
	if m == nil {
		return
	}
	m.CacheEvictions.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordCacheExpiration(cache string) {
	if m == nil {
		return
	}
	m.CacheExpirations.WithLabelValues(cache).Inc()
}

func (m *Metrics) SetQueueDepth(depth, processing int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	m.QueueProcessing.Set(float64(processing))
}

func (m *Metrics) RecordQueuePush(outcome string) {
	if m == nil {
		return
	}
	m.QueuePushes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordQueuePop() {
	if m == nil {
		return
	}
	m.QueuePops.Inc()
}

func (m *Metrics) RecordQueueRetry() {
	if m == nil {
		return
	}
	m.QueueRetries.Inc()
}

func (m *Metrics) RecordQueueDrop() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

func (m *Metrics) SetBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(breaker).Set(float64(state))
}

func (m *Metrics) RecordBreakerRejection(breaker string) {
	if m == nil {
		return
	}
	m.BreakerRejections.WithLabelValues(breaker).Inc()
}

func (m *Metrics) SetBreakerThreshold(breaker string, threshold int) {
	if m == nil {
		return
	}
	m.BreakerThreshold.WithLabelValues(breaker).Set(float64(threshold))
}

func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

func (m *Metrics) RecordSchedulerJob(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SchedulerJobsTotal.WithLabelValues(outcome).Inc()
	m.SchedulerJobDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordEntryForwarded(result string) {
	if m == nil {
		return
	}
	m.EntriesForwarded.WithLabelValues(result).Inc()
}

func (m *Metrics) SetMonthlyCost(user string, usd float64) {
	if m == nil {
		return
	}
	m.MonthlyCostUSD.WithLabelValues(user).Set(usd)
}

func (m *Metrics) RecordCostDowngrade(user string) {
	if m == nil {
		return
	}
	m.CostDowngrades.WithLabelValues(user).Inc()
}
