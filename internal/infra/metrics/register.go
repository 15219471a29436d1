// Package metrics holds the service's Prometheus collectors. Every collector
// lives under the order_payments namespace on a private registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "order_payments"

var (
	registry = prometheus.NewRegistry()

	once    sync.Once
	pending []prometheus.Collector
)

// register queues collectors from each file's init until MustRegister.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister adds the queued collectors plus the Go runtime and process
// collectors to the registry. Later calls are no-ops.
func MustRegister() {
	once.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry.MustRegister(pending...)
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
