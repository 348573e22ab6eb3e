package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	convergeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kitchenctl",
			Subsystem: "converge",
			Name:      "runs_total",
			Help:      "Convergence runs by host and outcome.",
		},
		[]string{"host", "outcome"},
	)
	convergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kitchenctl",
			Subsystem: "converge",
			Name:      "run_duration_seconds",
			Help:      "Convergence run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"host", "outcome"},
	)
	compiledNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kitchenctl",
			Subsystem: "compile",
			Name:      "nodes",
			Help:      "Node records produced by the last compilation.",
		},
	)
	compileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kitchenctl",
			Subsystem: "compile",
			Name:      "duration_seconds",
			Help:      "Node data bag compilation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(convergeRuns, convergeDuration, compiledNodes, compileDuration)
	})
}

func RecordConvergeRun(host, outcome string, duration time.Duration) {
	RegisterMetrics()
	convergeRuns.WithLabelValues(host, outcome).Inc()
	convergeDuration.WithLabelValues(host, outcome).Observe(duration.Seconds())
}

func RecordCompile(nodes int, duration time.Duration) {
	RegisterMetrics()
	compiledNodes.Set(float64(nodes))
	compileDuration.Observe(duration.Seconds())
}
