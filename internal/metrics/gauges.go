// Package metrics exposes the engine's reliability and congestion counters
// as Prometheus collectors, the way the teacher exposes its ARQ and
// congestion-control layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the full set of PRTP engine instruments.
type Metrics struct {
	SegmentsSent     prometheus.Counter
	SegmentsReceived prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter

	Retransmits       *prometheus.CounterVec // label "cause": "timeout" | "fast"
	DuplicateAcks     prometheus.Counter
	SegmentsRejected  prometheus.Counter // checksum failures
	SegmentsDuplicate prometheus.Counter // receiver-side duplicates/gaps

	CongestionWindow prometheus.Gauge
	SlowStartThresh  prometheus.Gauge
	ControllerState  prometheus.Gauge // 0=slow start, 1=congestion avoidance, 2=fast recovery

	ConnectionState prometheus.Gauge // mirrors connection.state ordinal
}

// New creates a Metrics set and registers it with registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SegmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtp",
			Name:      "segments_sent_total",
			Help:      "Total segments transmitted, including retransmissions.",
		}),
		SegmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtp",
			Name:      "segments_received_total",
			Help:      "Total segments received and passed integrity check.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtp",
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes transmitted.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtp",
			Name:      "bytes_received_total",
			Help:      "Total payload bytes delivered in order to the sink.",
		}),
		Retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prtp",
			Name:      "retransmits_total",
			Help:      "Total retransmissions by cause.",
		}, []string{"cause"}),
		DuplicateAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtp",
			Name:      "duplicate_acks_total",
			Help:      "Total duplicate ACKs observed by the sender while in fast recovery (beyond the fast-retransmit threshold).",
		}),
		SegmentsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtp",
			Name:      "segments_rejected_total",
			Help:      "Total segments dropped for failing the checksum.",
		}),
		SegmentsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prtp",
			Name:      "segments_duplicate_total",
			Help:      "Total duplicate or out-of-order data segments seen by the receiver.",
		}),
		CongestionWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prtp",
			Subsystem: "congestion",
			Name:      "cwnd",
			Help:      "Current congestion window, in segments.",
		}),
		SlowStartThresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prtp",
			Subsystem: "congestion",
			Name:      "ssthresh",
			Help:      "Current slow-start threshold, in segments.",
		}),
		ControllerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prtp",
			Subsystem: "congestion",
			Name:      "state",
			Help:      "Congestion controller state (0=slow start, 1=congestion avoidance, 2=fast recovery).",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prtp",
			Name:      "connection_state",
			Help:      "Connection state machine's current state ordinal.",
		}),
	}

	registry.MustRegister(
		m.SegmentsSent,
		m.SegmentsReceived,
		m.BytesSent,
		m.BytesReceived,
		m.Retransmits,
		m.DuplicateAcks,
		m.SegmentsRejected,
		m.SegmentsDuplicate,
		m.CongestionWindow,
		m.SlowStartThresh,
		m.ControllerState,
		m.ConnectionState,
	)

	return m
}

// RecordRetransmit increments the retransmit counter for the given cause.
func (m *Metrics) RecordRetransmit(cause string) {
	m.Retransmits.WithLabelValues(cause).Inc()
}
