package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConnectionMetrics implements internal/server.MetricsRecorder. All methods
// are nil-safe, matching the teacher's SessionMetrics: a server built with
// a nil *ConnectionMetrics still runs, it just doesn't export anything.
type ConnectionMetrics struct {
	AcceptedTotal    prometheus.Counter
	ClosedTotal      prometheus.Counter
	ForceClosedTotal prometheus.Counter
	Active           prometheus.Gauge
}

// NewConnectionMetrics creates and registers connection lifecycle metrics.
// If reg is nil, the collectors are created but never registered, same as
// the teacher's NewSessionMetrics(nil) escape hatch for tests.
func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	m := &ConnectionMetrics{
		AcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctcpd",
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total number of TCP connections accepted.",
		}),
		ClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctcpd",
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Total number of connections closed normally.",
		}),
		ForceClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctcpd",
			Subsystem: "connections",
			Name:      "force_closed_total",
			Help:      "Total number of connections force-closed during shutdown.",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctcpd",
			Subsystem: "connections",
			Name:      "active",
			Help:      "Current number of accepted connections.",
		}),
	}

	if reg != nil {
		m.AcceptedTotal = registerOrReuse(reg, m.AcceptedTotal).(prometheus.Counter)
		m.ClosedTotal = registerOrReuse(reg, m.ClosedTotal).(prometheus.Counter)
		m.ForceClosedTotal = registerOrReuse(reg, m.ForceClosedTotal).(prometheus.Counter)
		m.Active = registerOrReuse(reg, m.Active).(prometheus.Gauge)
	}

	return m
}

func (m *ConnectionMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.AcceptedTotal.Inc()
}

func (m *ConnectionMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.ClosedTotal.Inc()
}

func (m *ConnectionMetrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.ForceClosedTotal.Inc()
}

func (m *ConnectionMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.Active.Set(float64(count))
}
