// Package metrics defines the Prometheus instrumentation for every
// fleetquery service. Each service constructs the metric struct it needs and
// injects it where measurements happen; nil metric structs disable
// collection.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects every fleetquery metric, plus the standard Go runtime
// and process collectors.
var Registry = newRegistry()

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewGoCollector())
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// Handler exposes the registry for a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors with the shared registry, panicking on
// duplicate registration.
func MustRegister(cs ...prometheus.Collector) {
	Registry.MustRegister(cs...)
}
