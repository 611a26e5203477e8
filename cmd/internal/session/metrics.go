package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts session lifecycle events. A nil *Metrics is valid and records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	created     prometheus.Counter
	saves       *prometheus.CounterVec
}

// NewMetrics registers the session collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockpress",
			Subsystem: "session",
			Name:      "resolutions_total",
			Help:      "Socket handshake session resolutions by outcome.",
		}, []string{"outcome"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sockpress",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Sessions started by the HTTP middleware.",
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockpress",
			Subsystem: "session",
			Name:      "http_saves_total",
			Help:      "End-of-request session persistence by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.resolutions, m.created, m.saves)
	}
	return m
}

func (m *Metrics) resolved(o Outcome) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) saved(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saves.WithLabelValues(result).Inc()
}
