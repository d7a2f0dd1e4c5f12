package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequestMetrics tracks requests seen by the gateway.
//
// The outcome label carries the admission result of the request
// (allowed, rejected, free_pass, unmatched) or "bypass" when admission
// control is off.
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// NewRequestMetrics creates and registers request metrics with reg.
func NewRequestMetrics(reg prometheus.Registerer) *RequestMetrics {
	factory := promauto.With(reg)

	return &RequestMetrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"method", "code", "outcome"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "limitgate_http_request_duration_seconds",
				Help:    "End-to-end request duration including the upstream call",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "outcome"},
		),

		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "limitgate_http_requests_in_flight",
				Help: "Requests currently being served",
			},
		),
	}
}

// RecordRequest records a completed request.
func (rm *RequestMetrics) RecordRequest(method string, code int, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "bypass"
	}
	rm.requestsTotal.WithLabelValues(method, strconv.Itoa(code), outcome).Inc()
	rm.requestDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

// Start marks a request in flight and returns the function that ends it.
func (rm *RequestMetrics) Start() func() {
	rm.inFlight.Inc()
	return rm.inFlight.Dec
}
