package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains Prometheus metrics for the telemetry ingestion
// service.
type IngestMetrics struct {
	EnvelopesTotal      *prometheus.CounterVec
	EnvelopeErrors      *prometheus.CounterVec
	ProcessingDuration  *prometheus.HistogramVec
	MeasurementsWritten prometheus.Counter
	DevicesTouched      prometheus.Counter
	ActiveConsumers     prometheus.Gauge
}

// NewIngestMetrics creates and registers ingestion service metrics.
func NewIngestMetrics(namespace string) *IngestMetrics {
	m := &IngestMetrics{
		EnvelopesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "envelopes_total",
				Help:      "Total number of telemetry envelopes consumed",
			},
			[]string{"queue", "status"}, // status: success, error
		),
		EnvelopeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "envelope_errors_total",
				Help:      "Total number of envelope processing errors",
			},
			[]string{"queue", "error_type"},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "processing_duration_seconds",
				Help:      "Duration of envelope processing",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		MeasurementsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "measurements_written_total",
				Help:      "Total number of current measurement values written",
			},
		),
		DevicesTouched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "devices_touched_total",
				Help:      "Total number of device liveness updates",
			},
		),
		ActiveConsumers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "active_consumers",
				Help:      "Number of active telemetry consumers",
			},
		),
	}

	MustRegister(
		m.EnvelopesTotal,
		m.EnvelopeErrors,
		m.ProcessingDuration,
		m.MeasurementsWritten,
		m.DevicesTouched,
		m.ActiveConsumers,
	)

	return m
}
