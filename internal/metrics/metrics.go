package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for booking and refund counters.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

// ServerMetrics tracks the framed TCP server. A nil *ServerMetrics, or one
// built without a registerer, records nothing.
type ServerMetrics struct {
	connections    prometheus.Gauge
	frames         prometheus.Counter
	protocolErrors prometheus.Counter
	requests       *prometheus.HistogramVec
	bookings       *prometheus.CounterVec
	refunds        *prometheus.CounterVec
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	if reg == nil {
		return &ServerMetrics{}
	}
	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flight_active_connections",
		Help: "Client connections currently served.",
	})
	frames := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flight_frames_received_total",
		Help: "Complete frames decoded from clients.",
	})
	protocolErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flight_protocol_errors_total",
		Help: "Connections closed because of malformed input.",
	})
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flight_request_duration_seconds",
		Help:    "Time spent handling one request, by operation and success.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "success"})
	bookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_bookings_total",
		Help: "Booking attempts by outcome.",
	}, []string{"outcome"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_refunds_total",
		Help: "Refund attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(connections, frames, protocolErrors, requests, bookings, refunds)
	return &ServerMetrics{
		connections:    connections,
		frames:         frames,
		protocolErrors: protocolErrors,
		requests:       requests,
		bookings:       bookings,
		refunds:        refunds,
	}
}

func (m *ServerMetrics) ConnectionOpened() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Inc()
}

func (m *ServerMetrics) ConnectionClosed() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Dec()
}

func (m *ServerMetrics) FramesReceived(n int) {
	if m == nil || m.frames == nil || n <= 0 {
		return
	}
	m.frames.Add(float64(n))
}

func (m *ServerMetrics) ProtocolError() {
	if m == nil || m.protocolErrors == nil {
		return
	}
	m.protocolErrors.Inc()
}

// ObserveRequest satisfies dispatch.Observer.
func (m *ServerMetrics) ObserveRequest(op string, success bool, seconds float64) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(normalizeLabel(op), boolLabel(success)).Observe(seconds)
}

func (m *ServerMetrics) BookingOutcome(outcome string) {
	if m == nil || m.bookings == nil {
		return
	}
	m.bookings.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *ServerMetrics) RefundOutcome(outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
