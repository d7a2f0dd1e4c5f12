package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/limitgate/pkg/telemetry/tracing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseUpstream(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"http://127.0.0.1:9000", false},
		{"https://api.internal/base", false},
		{"", true},
		{"ftp://host", true},
		{"http://", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		_, err := ParseUpstream(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseUpstream(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
	}
}

func TestForwarder_ForwardsRequest(t *testing.T) {
	var gotPath, gotQuery, gotForwarded string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotForwarded = r.Header.Get("X-Forwarded-For")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created")
	}))
	defer upstream.Close()

	fwd, err := New(Config{UpstreamURL: upstream.URL + "/base", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/reports?id=7", strings.NewReader("{}"))
	req.RemoteAddr = "10.1.2.3:4567"
	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if rec.Body.String() != "created" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Error("upstream response header not copied")
	}
	if gotPath != "/base/reports" {
		t.Errorf("expected joined path /base/reports, got %q", gotPath)
	}
	if gotQuery != "id=7" {
		t.Errorf("expected query id=7, got %q", gotQuery)
	}
	if gotForwarded != "10.1.2.3" {
		t.Errorf("expected X-Forwarded-For 10.1.2.3, got %q", gotForwarded)
	}
}

func TestForwarder_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	fwd, err := New(Config{UpstreamURL: url, DialTimeout: time.Second, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var body map[string]errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["error"].Type != "upstream_error" {
		t.Errorf("unexpected error type %q", body["error"].Type)
	}
}

func TestForwarder_UpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 50 * time.Millisecond

	fwd, err := New(Config{UpstreamURL: upstream.URL, Transport: transport, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", rec.Code)
	}
}

func TestForwarder_Upstream(t *testing.T) {
	fwd, err := New(Config{UpstreamURL: "http://127.0.0.1:9000/api"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	u := fwd.Upstream()
	u.Path = "/changed"
	if fwd.Upstream().Path != "/api" {
		t.Error("Upstream() must return a copy")
	}
}

func TestForwarder_PropagatesTrace(t *testing.T) {
	var gotTraceparent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	exporter := tracetest.NewInMemoryExporter()
	tracer, err := tracing.NewWithExporter(tracing.Config{Enabled: true, Sampler: tracing.SamplerAlways}, exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	fwd, err := New(Config{UpstreamURL: upstream.URL, Tracer: tracer, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	if err := tracer.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "upstream GET" {
		t.Errorf("unexpected span name %q", span.Name)
	}
	if span.SpanKind != trace.SpanKindClient {
		t.Errorf("expected client span, got %v", span.SpanKind)
	}
	if !strings.Contains(gotTraceparent, span.SpanContext.TraceID().String()) {
		t.Errorf("traceparent %q does not carry trace %s", gotTraceparent, span.SpanContext.TraceID())
	}
}

func TestForwarder_NoTracerNoHeader(t *testing.T) {
	var gotTraceparent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent = r.Header.Get("traceparent")
	}))
	defer upstream.Close()

	fwd, err := New(Config{UpstreamURL: upstream.URL, Tracer: tracing.Noop(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	fwd.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if gotTraceparent != "" {
		t.Errorf("expected no traceparent without tracing, got %q", gotTraceparent)
	}
}
