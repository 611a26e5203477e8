package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the transport. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections *prometheus.GaugeVec
	handshakes  *prometheus.CounterVec
	events      *prometheus.CounterVec
	dropped     prometheus.Counter
	panics      prometheus.Counter
}

// NewMetrics registers the transport collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sockpress",
			Subsystem: "socket",
			Name:      "connections",
			Help:      "Open socket connections per namespace.",
		}, []string{"namespace"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockpress",
			Subsystem: "socket",
			Name:      "handshakes_total",
			Help:      "Socket handshakes by namespace and result.",
		}, []string{"namespace", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockpress",
			Subsystem: "socket",
			Name:      "events_total",
			Help:      "Application events by namespace and direction.",
		}, []string{"namespace", "direction"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sockpress",
			Subsystem: "socket",
			Name:      "dropped_total",
			Help:      "Outbound envelopes dropped under backpressure.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sockpress",
			Subsystem: "socket",
			Name:      "handler_panics_total",
			Help:      "Recovered panics in socket handlers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.handshakes, m.events, m.dropped, m.panics)
	}
	return m
}

func (m *Metrics) handshake(ns, result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(ns, result).Inc()
}

func (m *Metrics) connOpened(ns string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(ns).Inc()
}

func (m *Metrics) connClosed(ns string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(ns).Dec()
}

func (m *Metrics) event(ns, direction string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ns, direction).Inc()
}

func (m *Metrics) drop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) panicked() {
	if m == nil {
		return
	}
	m.panics.Inc()
}
