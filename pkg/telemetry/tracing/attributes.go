package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/limitgate/pkg/limits"
)

// Attribute keys.
const (
	AttrTable        = "limitgate.table"
	AttrOutcome      = "limitgate.outcome"
	AttrRule         = "limitgate.rule"
	AttrRetryAfterMS = "limitgate.retry_after_ms"
	AttrRequestID    = "limitgate.request_id"
)

// DecisionAttributes describes an admission decision.
func DecisionAttributes(table string, d limits.Decision) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTable, table),
		attribute.String(AttrOutcome, d.Outcome()),
		attribute.Int(AttrRule, d.Rule),
	}
	if d.RetryAfter > 0 {
		attrs = append(attrs, attribute.Int64(AttrRetryAfterMS, d.RetryAfter.Milliseconds()))
	}
	return attrs
}

// RecordDecision annotates the span in ctx with d. Rejections also add a
// "limit.rejected" event.
func RecordDecision(ctx context.Context, table string, d limits.Decision) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := DecisionAttributes(table, d)
	span.SetAttributes(attrs...)
	if d.Matched && !d.Allowed {
		span.AddEvent("limit.rejected", trace.WithAttributes(attrs...))
	}
}

// TraceID returns the trace ID of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Extract returns ctx carrying the trace context found in headers.
func Extract(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// Inject writes the trace context of ctx into headers.
func Inject(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
