// Package telemetry instruments the transport pipeline with Prometheus
// metrics. The dispatcher's metrics are simple monotonic counters and
// a histogram, which promauto captures in a few lines without a
// MeterProvider.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of instruments the Dispatcher and destcolumn
// engines report against. Each field is registered once with promauto.
type Metrics struct {
	RowsTransported   prometheus.Counter
	CellConversions   prometheus.Counter
	ConversionErrors  prometheus.Counter
	ColumnFlushes     *prometheus.CounterVec
	AllocLockWaitTime prometheus.Histogram
}

// New registers transportx's metrics under namespace on the default
// registry. Calling New more than once with the same namespace panics
// (promauto's usual behavior).
func New(namespace string) *Metrics {
	return &Metrics{
		RowsTransported: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_transported_total",
			Help:      "Total number of rows written to a destination across all partitions.",
		}),
		CellConversions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cell_conversions_total",
			Help:      "Total number of policy=option cell conversions attempted.",
		}),
		ConversionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cell_conversion_errors_total",
			Help:      "Total number of policy=option cell conversions that failed.",
		}),
		ColumnFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "column_flushes_total",
			Help:      "Total number of variable-length column flushes, labeled by trigger.",
		}, []string{"trigger"}),
		AllocLockWaitTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alloc_lock_wait_seconds",
			Help:      "Time spent waiting to acquire the destination's foreign allocation lock.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveAllocLockWait records how long a VarLen flush waited to
// acquire the shared AllocLock.
func (m *Metrics) ObserveAllocLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.AllocLockWaitTime.Observe(d.Seconds())
}

// RecordFlush increments the flush counter for the given trigger
// ("forced" or "opportunistic").
func (m *Metrics) RecordFlush(trigger string) {
	if m == nil {
		return
	}
	m.ColumnFlushes.WithLabelValues(trigger).Inc()
}
