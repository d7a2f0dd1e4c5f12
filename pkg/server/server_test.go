package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/limitgate/pkg/config"
	"mercator-hq/limitgate/pkg/limits"
	"mercator-hq/limitgate/pkg/limits/storage"
	"mercator-hq/limitgate/pkg/telemetry/metrics"
	"mercator-hq/limitgate/pkg/telemetry/tracing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type upstream struct {
	*httptest.Server
	hits atomic.Int64
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, "ok "+r.URL.Path)
	}))
	t.Cleanup(u.Close)
	return u
}

func testConfig(upstreamURL string, rules ...config.RuleConfig) *config.Config {
	cfg := config.NewDefault()
	cfg.Proxy.UpstreamURL = upstreamURL
	cfg.Limits.Rules = rules
	cfg.Limits.Stats.Backend = "memory"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg, Options{
		Version:   "1.2.3",
		Logger:    quietLogger(),
		Collector: metrics.NewCollector(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNew_InvalidUpstream(t *testing.T) {
	cfg := testConfig("ftp://nowhere")
	if _, err := New(context.Background(), cfg, Options{Logger: quietLogger()}); err == nil {
		t.Fatal("expected error for unsupported upstream scheme")
	}
}

func TestServer_AdmitsAndRejects(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL, config.RuleConfig{Pattern: "^GET /reports", Limit: 0, Duration: time.Minute})
	s := newTestServer(t, cfg)
	h := s.Handler()

	rec := get(t, h, "/reports/daily")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Rule") != "0" {
		t.Errorf("expected rule header 0, got %q", rec.Header().Get("X-RateLimit-Rule"))
	}
	if up.hits.Load() != 0 {
		t.Errorf("rejected request reached upstream")
	}

	rec = get(t, h, "/other")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok /other" {
		t.Errorf("unmatched request: code=%d body=%q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on proxied response")
	}
}

func TestServer_ReleasesAfterSuccess(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL, config.RuleConfig{Pattern: "^GET /a", Limit: 1, Duration: time.Minute})
	s := newTestServer(t, cfg)

	for i := 0; i < 3; i++ {
		if rec := get(t, s.Handler(), "/a"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	status := s.CurrentTable().Snapshot()[0]
	if status.Available != 1 {
		t.Errorf("expected permit returned after each request, available=%d", status.Available)
	}
}

func TestServer_UpstreamFailureHoldsPermit(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL, config.RuleConfig{Pattern: "^GET /fail", Limit: 1, Duration: time.Minute})
	s := newTestServer(t, cfg)

	if rec := get(t, s.Handler(), "/fail"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected upstream 500, got %d", rec.Code)
	}
	if rec := get(t, s.Handler(), "/fail"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected permit to stay consumed after upstream failure, got %d", rec.Code)
	}
}

func TestServer_AdminEndpointsBypassLimits(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL, config.RuleConfig{Pattern: ".*", Limit: 0, Duration: time.Minute})
	s := newTestServer(t, cfg)

	if rec := get(t, s.Handler(), "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health: expected 200, got %d", rec.Code)
	}
	if rec := get(t, s.Handler(), "/ready"); rec.Code != http.StatusOK {
		t.Errorf("/ready: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := get(t, s.Handler(), "/version")
	var info map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("invalid /version body: %v", err)
	}
	if info["version"] != "1.2.3" {
		t.Errorf("unexpected version %v", info["version"])
	}

	// a proxied request so the request families have samples
	get(t, s.Handler(), "/blocked")
	rec = get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics: expected 200, got %d", rec.Code)
	}
	for _, family := range []string{"limitgate_http_requests_total", "limitgate_decisions_total"} {
		if !strings.Contains(rec.Body.String(), family) {
			t.Errorf("metrics output missing %s", family)
		}
	}
}

func TestServer_LimitsDisabled(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL, config.RuleConfig{Pattern: ".*", Limit: 0, Duration: time.Minute})
	cfg.Limits.Enabled = false
	s := newTestServer(t, cfg)

	if s.CurrentTable() != nil {
		t.Error("expected no table when limits are disabled")
	}
	if rec := get(t, s.Handler(), "/anything"); rec.Code != http.StatusOK {
		t.Errorf("expected pass-through, got %d", rec.Code)
	}
}

func TestServer_Reload(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL, config.RuleConfig{Pattern: "^GET /x", Limit: 0, Duration: time.Minute})
	s := newTestServer(t, cfg)

	if rec := get(t, s.Handler(), "/x"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 before reload, got %d", rec.Code)
	}
	before := s.CurrentTable()

	next := testConfig(up.URL, config.RuleConfig{Pattern: "^GET /x", Limit: 5, Duration: time.Minute})
	next.Limits.RejectStatus = http.StatusServiceUnavailable
	if err := s.Reload(next); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if s.CurrentTable() == before {
		t.Error("expected a new table after reload")
	}
	if rec := get(t, s.Handler(), "/x"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 after reload, got %d", rec.Code)
	}
	if s.Config() != next {
		t.Error("Config() should return the reloaded configuration")
	}
}

func TestServer_ReloadNotifies(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL)

	var applied []*config.Config
	s, err := New(context.Background(), cfg, Options{
		Logger:    quietLogger(),
		Collector: metrics.NewCollector(prometheus.NewRegistry()),
		OnReload:  func(c *config.Config) { applied = append(applied, c) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = s.Shutdown(context.Background()) }()

	bad := testConfig(up.URL, config.RuleConfig{Pattern: "(", Limit: 1, Duration: time.Minute})
	_ = s.Reload(bad)
	next := testConfig(up.URL, config.RuleConfig{Pattern: "^GET", Limit: 1, Duration: time.Minute})
	if err := s.Reload(next); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if len(applied) != 1 || applied[0] != next {
		t.Errorf("expected only the applied configuration to be reported, got %d calls", len(applied))
	}
}

func TestServer_ReloadRejectsBadRules(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL, config.RuleConfig{Pattern: "^GET", Limit: 1, Duration: time.Minute})
	s := newTestServer(t, cfg)
	before := s.CurrentTable()

	bad := testConfig(up.URL, config.RuleConfig{Pattern: "(", Limit: 1, Duration: time.Minute})
	err := s.Reload(bad)
	if err == nil {
		t.Fatal("expected reload error for invalid pattern")
	}
	if !errors.Is(err, limits.ErrInvalidPattern) {
		t.Errorf("expected a rule configuration error, got %v", err)
	}
	if s.CurrentTable() != before {
		t.Error("failed reload must keep the previous table")
	}
}

func TestServer_ReloadDisablesLimitsStaysReady(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL, config.RuleConfig{Pattern: "^GET", Limit: 1, Duration: time.Minute})
	s := newTestServer(t, cfg)

	if rec := get(t, s.Handler(), "/ready"); rec.Code != http.StatusOK {
		t.Fatalf("/ready before reload: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	off := testConfig(up.URL)
	off.Limits.Enabled = false
	if err := s.Reload(off); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if s.CurrentTable() != nil {
		t.Error("expected no table with limits disabled")
	}
	if rec := get(t, s.Handler(), "/ready"); rec.Code != http.StatusOK {
		t.Errorf("/ready after disabling limits: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if err := s.Reload(cfg); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if rec := get(t, s.Handler(), "/ready"); rec.Code != http.StatusOK {
		t.Errorf("/ready after enabling limits: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_ReloadRetiresOldTable(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL,
		config.RuleConfig{Pattern: "^GET /a", Limit: 3, Duration: time.Minute},
		config.RuleConfig{Pattern: "^GET /b", Limit: 3, Duration: time.Minute},
	)
	s := newTestServer(t, cfg)

	old := s.CurrentTable()
	old.Evaluate("GET /a")
	old.Evaluate("GET /a")

	next := testConfig(up.URL, config.RuleConfig{Pattern: "^GET /a", Limit: 3, Duration: time.Minute})
	if err := s.Reload(next); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !old.Retired() {
		t.Fatal("expected the replaced table to be retired")
	}
	if s.CurrentTable().Retired() {
		t.Fatal("serving table must not be retired")
	}

	// A request admitted before the reload finishes afterwards.
	if err := old.Release(0); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	body := get(t, s.Handler(), "/metrics").Body.String()
	if !strings.Contains(body, `limitgate_permits_available{rule="0",table="gateway"} 3`) {
		t.Errorf("gauge for rule 0 should follow the serving table:\n%s", body)
	}
	if strings.Contains(body, `limitgate_permits_available{rule="1",table="gateway"}`) {
		t.Errorf("gauge for removed rule 1 should be gone:\n%s", body)
	}
}

func TestServer_ReloadPrunesSnapshots(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL,
		config.RuleConfig{Pattern: "^GET /a", Limit: 2, Duration: time.Minute},
		config.RuleConfig{Pattern: "^GET /b", Limit: 2, Duration: time.Minute},
	)
	cfg.Limits.Snapshots.Enabled = true
	cfg.Limits.Snapshots.Backend = "sqlite"
	cfg.Limits.Snapshots.SQLite.Path = filepath.Join(t.TempDir(), "snap.db")
	s := newTestServer(t, cfg)

	next := testConfig(up.URL, config.RuleConfig{Pattern: "^GET /c", Limit: 2, Duration: time.Minute})
	next.Limits.Snapshots = cfg.Limits.Snapshots
	if err := s.Reload(next); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	backend, err := storage.NewSQLiteBackend(cfg.Limits.Snapshots.SQLite.Path)
	if err != nil {
		t.Fatalf("reopen snapshot db: %v", err)
	}
	defer backend.Close()

	states, err := backend.List(context.Background(), cfg.Limits.Name)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected only the remaining rule, got %d snapshots", len(states))
	}
	if states[0].Pattern != "^GET /c" {
		t.Errorf("unexpected pattern %q", states[0].Pattern)
	}
}

func TestServer_SnapshotsOnShutdown(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL, config.RuleConfig{Pattern: "^GET /s", Limit: 2, Duration: time.Minute})
	cfg.Limits.Snapshots.Enabled = true
	cfg.Limits.Snapshots.Backend = "sqlite"
	cfg.Limits.Snapshots.SQLite.Path = filepath.Join(t.TempDir(), "state", "snap.db")
	s := newTestServer(t, cfg)

	get(t, s.Handler(), "/s")
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	backend, err := storage.NewSQLiteBackend(cfg.Limits.Snapshots.SQLite.Path)
	if err != nil {
		t.Fatalf("reopen snapshot db: %v", err)
	}
	defer backend.Close()

	states, err := backend.List(context.Background(), cfg.Limits.Name)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected 1 rule snapshot, got %d", len(states))
	}
	if states[0].Pattern != "^GET /s" {
		t.Errorf("unexpected pattern %q", states[0].Pattern)
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, testConfig(up.URL))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/hello"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok /hello" {
		t.Errorf("unexpected body %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_TracesProxiedRequests(t *testing.T) {
	var traceparent atomic.Value
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent.Store(r.Header.Get("traceparent"))
	}))
	defer up.Close()

	exporter := tracetest.NewInMemoryExporter()
	tr, err := tracing.NewWithExporter(tracing.Config{Enabled: true, Sampler: tracing.SamplerAlways}, exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	defer func() { _ = tr.Shutdown(context.Background()) }()

	cfg := testConfig(up.URL, config.RuleConfig{Pattern: "^GET /traced", Limit: 1, Duration: time.Minute})
	s, err := New(context.Background(), cfg, Options{
		Logger:    quietLogger(),
		Collector: metrics.NewCollector(prometheus.NewRegistry()),
		Tracer:    tr,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = s.Shutdown(context.Background()) }()

	rec := get(t, s.Handler(), "/traced")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	traceID := rec.Header().Get("X-Trace-ID")
	if traceID == "" {
		t.Fatal("expected X-Trace-ID")
	}
	if tp, _ := traceparent.Load().(string); !strings.Contains(tp, traceID) {
		t.Errorf("upstream traceparent %q does not carry trace %s", tp, traceID)
	}

	if err := tr.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	kinds := map[trace.SpanKind]int{}
	for _, span := range exporter.GetSpans() {
		if span.SpanContext.TraceID().String() != traceID {
			t.Errorf("span %q has trace %s, want %s", span.Name, span.SpanContext.TraceID(), traceID)
		}
		kinds[span.SpanKind]++
	}
	if kinds[trace.SpanKindServer] != 1 || kinds[trace.SpanKindClient] != 1 {
		t.Errorf("expected one server and one client span, got %v", kinds)
	}
}
