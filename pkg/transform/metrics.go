package transform

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Hits        prometheus.Counter
	Misses      prometheus.Counter
	EngineCalls prometheus.Counter
	Errors      prometheus.Counter
	Duration    prometheus.Histogram
}

// NewMetrics creates the transform collectors and registers them with reg
// when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsx",
			Subsystem: "transform",
			Name:      "cache_hits_total",
			Help:      "Transforms served from the content cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsx",
			Subsystem: "transform",
			Name:      "cache_misses_total",
			Help:      "Transforms not found in the content cache.",
		}),
		EngineCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsx",
			Subsystem: "transform",
			Name:      "engine_calls_total",
			Help:      "Invocations of the transform engine.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsx",
			Subsystem: "transform",
			Name:      "errors_total",
			Help:      "Transforms that failed.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tsx",
			Subsystem: "transform",
			Name:      "duration_seconds",
			Help:      "Time spent in the transform engine.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.EngineCalls, m.Errors, m.Duration)
	}
	return m
}
