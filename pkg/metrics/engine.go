package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains Prometheus metrics for the semantic query engine.
type EngineMetrics struct {
	QueriesTotal     *prometheus.CounterVec
	QueryDuration    prometheus.Histogram
	QueriesInFlight  prometheus.Gauge
	DevicesEvaluated prometheus.Histogram
	ResolutionsTotal *prometheus.CounterVec
	AggregatesServed *prometheus.CounterVec
	FilteredSetSize  prometheus.Histogram
}

// NewEngineMetrics creates and registers query engine metrics.
func NewEngineMetrics(namespace string) *EngineMetrics {
	m := &EngineMetrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "queries_total",
				Help:      "Total number of semantic queries executed",
			},
			[]string{"status"}, // status: success, not_found, invalid, upstream_error
		),
		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "query_duration_seconds",
				Help:      "Duration of semantic query execution",
				Buckets:   prometheus.DefBuckets,
			},
		),
		QueriesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "queries_in_flight",
				Help:      "Number of semantic queries currently executing",
			},
		),
		DevicesEvaluated: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "devices_evaluated",
				Help:      "Number of candidate devices evaluated per query",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8), // 1 to ~16k devices
			},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "resolutions_total",
				Help:      "Total number of per-device semantic resolutions",
			},
			[]string{"semantic", "outcome"}, // outcome: value, absent, error
		),
		AggregatesServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "aggregates_served_total",
				Help:      "Total number of fleet-wide aggregates computed",
			},
			[]string{"reduction"},
		),
		FilteredSetSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "filtered_set_size",
				Help:      "Number of devices in the filtered result set",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}

	MustRegister(
		m.QueriesTotal,
		m.QueryDuration,
		m.QueriesInFlight,
		m.DevicesEvaluated,
		m.ResolutionsTotal,
		m.AggregatesServed,
		m.FilteredSetSize,
	)

	return m
}
