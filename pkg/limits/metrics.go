package limits

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for rule tables.
//
// One Metrics value may be shared by many tables; series are labelled by
// table name and rule index.
type Metrics struct {
	// Admission decisions by outcome
	decisions *prometheus.CounterVec

	// Permit releases (returned or overflow)
	releases *prometheus.CounterVec

	// Permits left per rule
	available *prometheus.GaugeVec

	// Evaluate latency
	checkDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_decisions_total",
				Help: "Total number of admission decisions by outcome",
			},
			[]string{"table", "rule", "result"},
		),

		releases: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitgate_permit_releases_total",
				Help: "Total number of permit releases, by whether a permit was returned",
			},
			[]string{"table", "rule", "result"},
		),

		available: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "limitgate_permits_available",
				Help: "Permits left in the current window of each rule",
			},
			[]string{"table", "rule"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "limitgate_check_duration_seconds",
				Help:    "Time spent evaluating a request against a rule table",
				Buckets: []float64{.000001, .000005, .00001, .00005, .0001, .0005, .001, .005},
			},
			[]string{"table"},
		),
	}
}

// RecordDecision records one Evaluate outcome. rule is the index of the
// matched rule, NoRule when nothing matched.
func (m *Metrics) RecordDecision(table string, rule int, d Decision, duration time.Duration) {
	m.decisions.WithLabelValues(table, ruleLabel(rule), d.Outcome()).Inc()
	m.checkDuration.WithLabelValues(table).Observe(duration.Seconds())
}

// RecordRelease records a permit release.
func (m *Metrics) RecordRelease(table string, rule int, returned bool) {
	result := "returned"
	if !returned {
		result = "overflow"
	}
	m.releases.WithLabelValues(table, ruleLabel(rule), result).Inc()
}

// RecordAvailable sets the available permits gauge for a rule.
func (m *Metrics) RecordAvailable(table string, rule int, available int64) {
	m.available.WithLabelValues(table, ruleLabel(rule)).Set(float64(available))
}

// DeleteAvailable removes the available permits series of a rule.
func (m *Metrics) DeleteAvailable(table string, rule int) {
	m.available.DeleteLabelValues(table, ruleLabel(rule))
}

func ruleLabel(rule int) string {
	if rule == NoRule {
		return "none"
	}
	return strconv.Itoa(rule)
}
