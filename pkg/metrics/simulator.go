package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the fleet simulator.
type SimulatorMetrics struct {
	EnvelopesPublished *prometheus.CounterVec
	PublishFailures    *prometheus.CounterVec
	PublishDuration    *prometheus.HistogramVec
	ActiveDevices      prometheus.Gauge
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		EnvelopesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "envelopes_published_total",
				Help:      "Total number of telemetry envelopes published",
			},
			[]string{"product"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "publish_failures_total",
				Help:      "Total number of failed envelope publishes",
			},
			[]string{"product", "reason"},
		),
		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "publish_duration_seconds",
				Help:      "Duration of envelope publish operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"product"},
		),
		ActiveDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "active_devices",
				Help:      "Number of simulated devices currently publishing",
			},
		),
	}

	MustRegister(
		m.EnvelopesPublished,
		m.PublishFailures,
		m.PublishDuration,
		m.ActiveDevices,
	)

	return m
}
