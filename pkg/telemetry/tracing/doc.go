// Package tracing provides OpenTelemetry tracing for the gateway.
//
// A Tracer owns the SDK TracerProvider and an OTLP/gRPC exporter. When
// tracing is disabled, New returns a tracer backed by the no-op provider so
// callers never need a nil check.
//
//	tr, err := tracing.New(ctx, tracing.Config{
//	    Enabled:     true,
//	    ServiceName: "limitgate",
//	    Endpoint:    "otel-collector:4317",
//	    Insecure:    true,
//	    Sampler:     tracing.SamplerRatio,
//	    SampleRatio: 0.1,
//	})
//	if err != nil {
//	    return err
//	}
//	defer tr.Shutdown(context.Background())
//
// # Propagation
//
// W3C Trace Context and Baggage are installed as the global propagator.
// Extract reads an incoming traceparent header; Inject writes the current
// span into outgoing headers, which the upstream transport does for every
// forwarded request.
//
// # Attributes
//
// Admission decisions are recorded on the request span under the
// "limitgate.*" namespace:
//
//   - limitgate.table: rule table name
//   - limitgate.outcome: allowed, rejected, free_pass or unmatched
//   - limitgate.rule: index of the charged rule, -1 for none
//   - limitgate.retry_after_ms: time left in the window of a rejection
package tracing
