package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"mercator-hq/limitgate/pkg/telemetry/tracing"
)

// Config configures the upstream forwarder.
type Config struct {
	// UpstreamURL is the base URL of the protected service. Its path is
	// joined with the inbound request path.
	UpstreamURL string

	// Transport performs upstream round trips.
	// Default: a clone of http.DefaultTransport with DialTimeout applied.
	Transport http.RoundTripper

	// DialTimeout bounds connection setup when Transport is nil.
	// Default: 10s
	DialTimeout time.Duration

	// FlushInterval is passed to the reverse proxy. Negative flushes after
	// every write, which streaming upstreams need.
	FlushInterval time.Duration

	// Tracer records a client span per upstream round trip and propagates
	// the trace context to the upstream. Optional.
	Tracer *tracing.Tracer

	// Logger. Default: slog.Default().
	Logger *slog.Logger
}

// Forwarder sends requests to the upstream service.
type Forwarder struct {
	upstream *url.URL
	rp       *httputil.ReverseProxy
	logger   *slog.Logger
}

// New creates a Forwarder for cfg.UpstreamURL.
func New(cfg Config) (*Forwarder, error) {
	upstream, err := ParseUpstream(cfg.UpstreamURL)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := cfg.Transport
	if transport == nil {
		dialTimeout := cfg.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = 10 * time.Second
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext
		transport = t
	}
	if cfg.Tracer != nil && cfg.Tracer.Enabled() {
		transport = &tracingTransport{base: transport, tracer: cfg.Tracer}
	}

	f := &Forwarder{
		upstream: upstream,
		logger:   logger.With("component", "proxy", "upstream", upstream.Redacted()),
	}
	f.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		Transport:     transport,
		FlushInterval: cfg.FlushInterval,
		ErrorHandler:  f.handleError,
	}
	return f, nil
}

// ParseUpstream validates an upstream base URL.
func ParseUpstream(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("upstream URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream URL %q has no host", raw)
	}
	return u, nil
}

// Upstream returns the upstream base URL.
func (f *Forwarder) Upstream() *url.URL {
	u := *f.upstream
	return &u
}

// ServeHTTP implements http.Handler.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.rp.ServeHTTP(w, r)
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	msg := "upstream unavailable"

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		f.logger.DebugContext(r.Context(), "client canceled upstream request", "path", r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		status = http.StatusGatewayTimeout
		msg = "upstream timed out"
		f.logger.WarnContext(r.Context(), "upstream request timed out", "path", r.URL.Path, "error", err)
	default:
		f.logger.WarnContext(r.Context(), "upstream request failed", "path", r.URL.Path, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]errorBody{
		"error": {Message: msg, Type: "upstream_error"},
	})
}
