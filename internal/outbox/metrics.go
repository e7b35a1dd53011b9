package outbox

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	stagedTotal    *prometheus.CounterVec
	publishTotal   *prometheus.CounterVec
	publishedTotal prometheus.Counter
	releasedTotal  prometheus.Counter

	publishLatency *prometheus.HistogramVec

	pending prometheus.Gauge
	claimed prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		stagedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tapline",
			Subsystem: "outbox",
			Name:      "staged_total",
			Help:      "Total number of events staged in the outbox.",
		}, []string{"type"}),
		publishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tapline",
			Subsystem: "outbox",
			Name:      "publish_attempts_total",
			Help:      "Total number of batch publish attempts.",
		}, []string{"result"}),
		publishedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "tapline",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Total number of outbox rows marked published.",
		}),
		releasedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "tapline",
			Subsystem: "outbox",
			Name:      "released_total",
			Help:      "Total number of claimed rows released after a failed sweep.",
		}),
		publishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tapline",
			Subsystem: "outbox",
			Name:      "publish_latency_seconds",
			Help:      "Latency distribution for batch publish calls.",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.05,
				0.1, 0.5, 1, 5, 10,
			},
		}, []string{"result"}),
		pending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "tapline",
			Subsystem: "outbox",
			Name:      "pending",
			Help:      "Current number of unpublished rows.",
		}),
		claimed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "tapline",
			Subsystem: "outbox",
			Name:      "claimed",
			Help:      "Current number of unpublished rows under a live claim.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
