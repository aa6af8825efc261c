package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of a Server.
type Metrics struct {
	Received        prometheus.Counter
	Envelopes       *prometheus.CounterVec
	VerifyLatency   prometheus.Histogram
	ConnectionError prometheus.Counter
}

// NewMetrics initializes the Prometheus metrics of a Server.
func NewMetrics() *Metrics {
	return &Metrics{
		Received: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mss_frames_received_total",
				Help: "Number of frames received",
			},
		),
		Envelopes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mss_envelopes_total",
				Help: "Number of envelopes checked, by outcome",
			},
			[]string{"status"},
		),
		VerifyLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mss_verify_latency_seconds",
				Help:    "Time spent verifying an envelope",
				Buckets: prometheus.DefBuckets,
			},
		),
		ConnectionError: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mss_connection_errors_total",
				Help: "Number of connections dropped because of an I/O error",
			},
		),
	}
}

// Register adds the metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Received, m.Envelopes, m.VerifyLatency, m.ConnectionError,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
