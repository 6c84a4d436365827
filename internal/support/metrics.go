package support

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type routerMetrics struct {
	relayed *prometheus.CounterVec
	closes  *prometheus.CounterVec
	desyncs prometheus.Counter
}

var (
	routerMetricsOnce sync.Once
	routerMetricsInst *routerMetrics
)

func globalRouterMetrics() *routerMetrics {
	routerMetricsOnce.Do(func() {
		routerMetricsInst = newRouterMetrics()
	})
	return routerMetricsInst
}

func newRouterMetrics() *routerMetrics {
	return &routerMetrics{
		relayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "florabot",
			Subsystem: "support",
			Name:      "relayed_messages_total",
			Help:      "Messages relayed between clients and managers, labeled by direction",
		}, []string{"direction"}),
		closes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "florabot",
			Subsystem: "support",
			Name:      "ticket_closes_total",
			Help:      "Ticket close transitions, labeled by who initiated them",
		}, []string{"reason"}),
		desyncs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "florabot",
			Subsystem: "support",
			Name:      "session_desyncs_total",
			Help:      "Session pointers found without a matching open ticket",
		}),
	}
}

func (m *routerMetrics) recordRelay(direction string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(direction).Inc()
}

func (m *routerMetrics) recordClose(reason string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(reason).Inc()
}

func (m *routerMetrics) recordDesync() {
	if m == nil {
		return
	}
	m.desyncs.Inc()
}
