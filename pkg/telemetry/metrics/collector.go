package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/limitgate/pkg/limits"
)

// Collector holds the registry and every metric family the gateway exports.
type Collector struct {
	registry *prometheus.Registry

	requests *RequestMetrics
	limits   *limits.Metrics

	reloads *prometheus.CounterVec
}

// NewCollector creates a collector on registry. A nil registry creates a
// fresh one with the Go runtime and process collectors registered.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Collector{
		registry: registry,
		requests: NewRequestMetrics(registry),
		limits:   limits.NewMetrics(registry),
		reloads: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_config_reloads_total",
				Help: "Configuration reloads by result",
			},
			[]string{"result"},
		),
	}
}

// Requests returns the HTTP request metrics.
func (c *Collector) Requests() *RequestMetrics {
	return c.requests
}

// Limits returns the admission metrics to pass in limits.Options. Every
// table built from this collector shares them, so a reload does not
// register the families twice.
func (c *Collector) Limits() *limits.Metrics {
	return c.limits
}

// RecordReload counts a configuration reload attempt.
func (c *Collector) RecordReload(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.reloads.WithLabelValues(result).Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
