package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProtocolMetrics tracks CTCP request handling and capture streaming, the
// server's actual workload as opposed to raw TCP connection counts. Labeled
// by opcode and result code name so operators can see which operations are
// failing and how, the same shape as the teacher's per-reason
// DestroyedTotal CounterVec.
type ProtocolMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	FragmentedTotal prometheus.Counter
	CapturedItems   prometheus.Counter
	CapturedBytes   prometheus.Counter
}

// NewProtocolMetrics creates and registers protocol-level metrics. If reg is
// nil the collectors are created but never registered.
func NewProtocolMetrics(reg prometheus.Registerer) *ProtocolMetrics {
	m := &ProtocolMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctcpd",
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Total CTCP requests handled, labeled by opcode and result code.",
		}, []string{"op", "result"}),
		FragmentedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctcpd",
			Subsystem: "protocol",
			Name:      "captured_data_fragmented_total",
			Help:      "Total CAPTURED_DATA_RESULT transactions that required more than one fragment.",
		}),
		CapturedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctcpd",
			Subsystem: "protocol",
			Name:      "captured_items_total",
			Help:      "Total change-log items streamed to clients.",
		}),
		CapturedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctcpd",
			Subsystem: "protocol",
			Name:      "captured_bytes_total",
			Help:      "Total change-log item payload bytes streamed to clients.",
		}),
	}

	if reg != nil {
		m.RequestsTotal = registerOrReuse(reg, m.RequestsTotal).(*prometheus.CounterVec)
		m.FragmentedTotal = registerOrReuse(reg, m.FragmentedTotal).(prometheus.Counter)
		m.CapturedItems = registerOrReuse(reg, m.CapturedItems).(prometheus.Counter)
		m.CapturedBytes = registerOrReuse(reg, m.CapturedBytes).(prometheus.Counter)
	}

	return m
}

// RecordRequest increments the per-(op, result) counter. Nil-safe.
func (m *ProtocolMetrics) RecordRequest(op, result string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(op, result).Inc()
}

// RecordFragmented increments the fragmented-transaction counter. Nil-safe.
func (m *ProtocolMetrics) RecordFragmented() {
	if m == nil {
		return
	}
	m.FragmentedTotal.Inc()
}

// RecordCaptured adds to the captured item/byte counters. Nil-safe.
func (m *ProtocolMetrics) RecordCaptured(items int, bytes int) {
	if m == nil {
		return
	}
	m.CapturedItems.Add(float64(items))
	m.CapturedBytes.Add(float64(bytes))
}
