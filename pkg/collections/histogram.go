package collections

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultHistogramCapacity is the sample capacity used when none is given.
const DefaultHistogramCapacity = 1000

// Histogram is a fixed-size ring buffer of latency samples. Once full, the
// oldest sample is overwritten. Percentiles are computed by sorting a copy of
// the current samples on demand.
type Histogram struct {
	mu       sync.Mutex
	samples  []time.Duration
	capacity int
	next     int
	full     bool
}

// NewHistogram creates a histogram holding up to capacity samples.
// A non-positive capacity falls back to DefaultHistogramCapacity.
func NewHistogram(capacity int) *Histogram {
	if capacity <= 0 {
		capacity = DefaultHistogramCapacity
	}
	return &Histogram{
		samples:  make([]time.Duration, 0, capacity),
		capacity: capacity,
	}
}

// Record adds a sample, evicting the oldest when full.
func (h *Histogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) < h.capacity {
		h.samples = append(h.samples, d)
		return
	}
	h.samples[h.next] = d
	h.next = (h.next + 1) % h.capacity
	h.full = true
}

// Count returns the number of recorded samples currently held.
func (h *Histogram) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}

// Percentile returns the p-th percentile (0 < p <= 100) of the held samples.
// The boolean is false when no samples have been recorded, so callers can
// distinguish "no data" from a zero latency.
func (h *Histogram) Percentile(p float64) (time.Duration, bool) {
	sorted := h.sortedCopy()
	if len(sorted) == 0 {
		return 0, false
	}
	idx := int(math.Ceil(float64(len(sorted))*p/100.0)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx], true
}

// HistogramSnapshot is a point-in-time summary of the held samples.
type HistogramSnapshot struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Snapshot computes a summary of the held samples. The boolean is false when
// no samples exist.
func (h *Histogram) Snapshot() (HistogramSnapshot, bool) {
	sorted := h.sortedCopy()
	n := len(sorted)
	if n == 0 {
		return HistogramSnapshot{}, false
	}
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	at := func(p float64) time.Duration {
		idx := int(math.Ceil(float64(n)*p/100.0)) - 1
		if idx < 0 {
			idx = 0
		}
		return sorted[idx]
	}
	return HistogramSnapshot{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Mean:  sum / time.Duration(n),
		P50:   at(50),
		P95:   at(95),
		P99:   at(99),
	}, true
}

// Reset discards all samples.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
	h.next = 0
	h.full = false
}

func (h *Histogram) sortedCopy() []time.Duration {
	h.mu.Lock()
	sorted := make([]time.Duration, len(h.samples))
	copy(sorted, h.samples)
	h.mu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}
