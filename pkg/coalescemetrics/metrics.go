// Package coalescemetrics exposes the coalescing coordinator's
// Prometheus collectors, following the common package-level
// promauto.New*Vec idiom.
package coalescemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesTotal counts dispatched batches, labeled by dispatch outcome
	// (ok, callback_failed, arity_mismatch).
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coalesce_batches_total",
			Help: "Total number of batches closed, by outcome",
		},
		[]string{"outcome"},
	)

	// BatchSize tracks the member count of each closed batch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coalesce_batch_size",
			Help:    "Number of members in each closed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// DispatchDuration tracks callback invocation latency.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coalesce_dispatch_duration_seconds",
			Help:    "Time spent invoking the batch callback",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// RingBufferDepth reports the current queue depth.
	RingBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coalesce_ring_buffer_depth",
			Help: "Current number of tuples queued in the ring buffer",
		},
	)
)

// ObserveBatchSize records a closed batch's member count.
func ObserveBatchSize(size float64) {
	BatchSize.Observe(size)
}

// ObserveDispatch records a dispatch outcome and its duration in
// seconds.
func ObserveDispatch(outcome string, seconds float64) {
	BatchesTotal.WithLabelValues(outcome).Inc()
	DispatchDuration.WithLabelValues(outcome).Observe(seconds)
}

// SetRingBufferDepth publishes the current ring buffer depth.
func SetRingBufferDepth(depth float64) {
	RingBufferDepth.Set(depth)
}
