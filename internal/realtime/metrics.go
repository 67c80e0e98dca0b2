package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks socket and delivery counts.
type Metrics struct {
	connections *prometheus.GaugeVec
	rooms       prometheus.Gauge
	delivered   *prometheus.CounterVec
	dropped     prometheus.Counter
	pruned      prometheus.Counter
}

// NewMetrics registers the fan-out metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dialer",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open dashboard sockets by role.",
		}, []string{"role"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dialer",
			Subsystem: "realtime",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialer",
			Subsystem: "realtime",
			Name:      "messages_delivered_total",
			Help:      "Envelopes queued to sockets by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dialer",
			Subsystem: "realtime",
			Name:      "slow_clients_dropped_total",
			Help:      "Sockets closed because their send buffer was full.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dialer",
			Subsystem: "realtime",
			Name:      "stale_clients_pruned_total",
			Help:      "Sockets closed by the heartbeat for missing pongs.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.rooms, m.delivered, m.dropped, m.pruned)
	}
	return m
}
