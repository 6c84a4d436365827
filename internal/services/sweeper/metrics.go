package sweeper

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type sweepMetrics struct {
	runs      prometheus.Counter
	closed    prometheus.Counter
	errors    prometheus.Counter
	durations prometheus.Observer
}

var (
	sweepMetricsOnce sync.Once
	sweepMetricsInst *sweepMetrics
)

func globalSweepMetrics() *sweepMetrics {
	sweepMetricsOnce.Do(func() {
		sweepMetricsInst = newSweepMetrics()
	})
	return sweepMetricsInst
}

func newSweepMetrics() *sweepMetrics {
	return &sweepMetrics{
		runs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "florabot",
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Total inactivity sweep executions",
		}),
		closed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "florabot",
			Subsystem: "sweeper",
			Name:      "closed_tickets_total",
			Help:      "Tickets auto-closed for inactivity",
		}),
		errors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "florabot",
			Subsystem: "sweeper",
			Name:      "errors_total",
			Help:      "Failures during inactivity sweeps",
		}),
		durations: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "florabot",
			Subsystem: "sweeper",
			Name:      "duration_seconds",
			Help:      "Duration of inactivity sweep executions",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *sweepMetrics) recordRun() func() {
	if m == nil {
		return func() {}
	}
	m.runs.Inc()
	timer := prometheus.NewTimer(m.durations)
	return func() {
		timer.ObserveDuration()
	}
}

func (m *sweepMetrics) recordClosed() {
	if m == nil {
		return
	}
	m.closed.Inc()
}

func (m *sweepMetrics) recordError() {
	if m == nil {
		return
	}
	m.errors.Inc()
}
