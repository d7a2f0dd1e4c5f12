// Package server assembles the limitgate gateway.
//
// A Server owns one upstream forwarder and the admission route in front of
// it. Requests that are not for an admin endpoint pass through
//
//	Recovery -> Tracing -> Logging -> RequestID -> Limits -> reverse proxy
//
// where Limits consults the rule table built from the current
// configuration. The admin endpoints bypass admission control:
//
//   - GET /health  liveness
//   - GET /ready   readiness (rule table, Redis stats store, snapshot backend)
//   - GET /version build information
//   - GET /metrics Prometheus exposition (path configurable)
//
// # Lifecycle
//
//	srv, err := server.New(ctx, cfg, server.Options{ConfigPath: path, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx) // blocks until ctx is cancelled
//
// Start listens, starts the snapshot recorder when snapshots are enabled and
// watches the configuration file when watch is set. Cancelling ctx drains
// connections within the shutdown timeout, records a final snapshot and
// closes the stats and snapshot backends. A tracer built from the
// telemetry.tracing section is flushed last.
//
// # Reload
//
// Reload builds a new rule table and swaps the route atomically. In-flight
// requests finish against the table that admitted them; their releases go to
// that table as well. Budgets in the new table start full. Changes to proxy,
// stats, snapshot or tracing settings are logged and need a restart.
package server
