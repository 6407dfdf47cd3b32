// Package metrics exposes the bridge's prometheus collectors: a
// dedicated registry rather than the global default, so agent-facing
// metrics never collide with a host process's own instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Registry = prometheus.NewRegistry()

var (
	ActionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas_bridge",
			Subsystem: "dispatch",
			Name:      "actions_total",
			Help:      "Total dispatcher actions invoked, by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	ActionDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas_bridge",
			Subsystem: "dispatch",
			Name:      "action_duration_seconds",
			Help:      "Dispatcher action handler latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"action"},
	)

	RateLimited = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas_bridge",
			Subsystem: "dispatch",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-key rate limiter, by class.",
		},
		[]string{"class"},
	)

	StreamClients = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atlas_bridge",
			Subsystem: "stream",
			Name:      "connected_clients",
			Help:      "Number of connected WebSocket clients.",
		},
	)

	StreamPublished = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas_bridge",
			Subsystem: "stream",
			Name:      "messages_published_total",
			Help:      "Messages published, by channel.",
		},
		[]string{"channel"},
	)

	BrokerConnected = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atlas_bridge",
			Subsystem: "broker",
			Name:      "connected",
			Help:      "Whether the broker session is connected (1) or not (0).",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
