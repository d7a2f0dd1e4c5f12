// Package telemetry groups the observability packages of the limitgate
// gateway.
//
// # Components
//
//   - logging: structured slog logging with request-scoped fields and
//     redaction of credentials found in request lines
//   - metrics: the Prometheus registry, HTTP request metrics and the
//     /metrics handler
//   - health: liveness and readiness checks for the rule table and the
//     statistics and snapshot stores
//   - tracing: OpenTelemetry spans for proxied requests, carrying the
//     admission decision, exported over OTLP/gRPC
//
// Admission decision metrics live next to the rule table in pkg/limits and
// register against the registry created here.
package telemetry
