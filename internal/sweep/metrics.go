package sweep

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	passes    *prometheus.CounterVec
	claimed   *prometheus.CounterVec
	changed   prometheus.Counter
	conflicts prometheus.Counter
	duration  prometheus.Histogram
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		passes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tapline",
			Subsystem: "sweep",
			Name:      "passes_total",
			Help:      "Total number of status sweep passes.",
		}, []string{"result"}),
		claimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tapline",
			Subsystem: "sweep",
			Name:      "claimed_total",
			Help:      "Total number of rows claimed by the status sweep.",
		}, []string{"entity"}),
		changed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "tapline",
			Subsystem: "sweep",
			Name:      "changed_total",
			Help:      "Total number of rows whose status the sweep changed.",
		}),
		conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "tapline",
			Subsystem: "sweep",
			Name:      "conflicts_total",
			Help:      "Total number of rows skipped after a version conflict.",
		}),
		duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tapline",
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of status sweep passes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
})
