package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts job executions.
type Metrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	closed    prometheus.Counter
}

// NewMetrics registers the job metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialer",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Jobs handled, by type and result.",
		}, []string{"type", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dialer",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dialer",
			Subsystem: "jobs",
			Name:      "stale_attempts_closed_total",
			Help:      "Attempts closed by the stale-call sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.processed, m.duration, m.closed)
	}
	return m
}
