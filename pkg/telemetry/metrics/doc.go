// Package metrics owns the gateway's Prometheus registry.
//
// # Overview
//
// A Collector creates a private registry with the Go runtime and process
// collectors, the HTTP request metrics recorded by the gateway middleware,
// and the admission metrics of pkg/limits. Handler exposes the registry in
// the Prometheus exposition format.
//
// # Metrics
//
//   - limitgate_http_requests_total{method,code,outcome}
//   - limitgate_http_request_duration_seconds{method,outcome}
//   - limitgate_http_requests_in_flight
//   - limitgate_config_reloads_total{result}
//   - limitgate_decisions_total{table,rule,result} (pkg/limits)
//   - limitgate_permit_releases_total{table,rule,result} (pkg/limits)
//   - limitgate_permits_available{table,rule} (pkg/limits)
//   - limitgate_check_duration_seconds{table} (pkg/limits)
//
// # Usage
//
//	collector := metrics.NewCollector(nil)
//	table, err := limits.NewTable(rules, limits.Options{Metrics: collector.Limits()})
//	mux.Handle("/metrics", collector.Handler())
package metrics
