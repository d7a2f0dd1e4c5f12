package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/limitgate/pkg/config"
	"mercator-hq/limitgate/pkg/limits"
	"mercator-hq/limitgate/pkg/limits/snapshot"
	"mercator-hq/limitgate/pkg/limits/storage"
	"mercator-hq/limitgate/pkg/proxy"
	"mercator-hq/limitgate/pkg/proxy/middleware"
	"mercator-hq/limitgate/pkg/telemetry/health"
	"mercator-hq/limitgate/pkg/telemetry/metrics"
	"mercator-hq/limitgate/pkg/telemetry/tracing"
)

// Options carries build information and shared dependencies.
type Options struct {
	// ConfigPath is watched for changes when the configuration sets watch.
	ConfigPath string

	Version   string
	Commit    string
	BuildTime string

	// Logger. Default: slog.Default().
	Logger *slog.Logger

	// Collector. Default: a collector on a fresh registry.
	Collector *metrics.Collector

	// OnReload is called with each configuration Reload applies. Optional.
	OnReload func(*config.Config)

	// Tracer. Default: built from the telemetry.tracing section and shut
	// down with the server. A supplied tracer is left to the caller.
	Tracer *tracing.Tracer
}

// reloadSnapshotTimeout bounds the snapshot written after a reload.
const reloadSnapshotTimeout = 5 * time.Second

// route is the admission-controlled proxy route built from one
// configuration. It is replaced as a whole on reload.
type route struct {
	limits  bool
	limiter *middleware.Limiter
	handler http.Handler
}

// Server is the gateway: an admission-controlled reverse proxy to one
// upstream service plus the health and metrics endpoints.
type Server struct {
	opts      Options
	logger    *slog.Logger
	collector *metrics.Collector
	checker   *health.Checker
	forwarder *proxy.Forwarder
	tracer    *tracing.Tracer
	ownTracer bool

	config atomic.Pointer[config.Config]
	route  atomic.Pointer[route]

	stats    *StatsStore
	backend  storage.Backend
	recorder *snapshot.Recorder
	watcher  *config.Watcher

	handler    http.Handler
	httpServer *http.Server

	mu           sync.Mutex
	running      bool
	shutdownOnce sync.Once
}

// New builds a server from cfg. It connects to the stats and snapshot
// backends but does not listen until Start or Serve is called.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Collector == nil {
		opts.Collector = metrics.NewCollector(nil)
	}

	s := &Server{
		opts:      opts,
		logger:    opts.Logger.With("component", "server"),
		collector: opts.Collector,
		checker:   health.New(0),
	}

	s.tracer = opts.Tracer
	if s.tracer == nil {
		tc := cfg.Telemetry.Tracing
		tr, err := tracing.New(ctx, tracing.Config{
			Enabled:        tc.Enabled,
			ServiceName:    tc.ServiceName,
			ServiceVersion: opts.Version,
			Endpoint:       tc.Endpoint,
			Insecure:       tc.Insecure,
			Timeout:        tc.Timeout,
			Sampler:        tc.Sampler,
			SampleRatio:    tc.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create tracer: %w", err)
		}
		s.tracer = tr
		s.ownTracer = true
	}

	fwd, err := proxy.New(proxy.Config{
		UpstreamURL: cfg.Proxy.UpstreamURL,
		Tracer:      s.tracer,
		Logger:      opts.Logger,
	})
	if err != nil {
		_ = s.shutdownTracer(context.Background())
		return nil, fmt.Errorf("failed to create upstream proxy: %w", err)
	}
	s.forwarder = fwd

	st, err := OpenStatsStore(ctx, cfg.Limits.Stats)
	if err != nil {
		_ = s.shutdownTracer(context.Background())
		return nil, fmt.Errorf("failed to open stats store: %w", err)
	}
	s.stats = st

	if cfg.Limits.Snapshots.Enabled {
		backend, err := OpenSnapshotBackend(cfg.Limits.Snapshots)
		if err != nil {
			_ = st.Close()
			_ = s.shutdownTracer(context.Background())
			return nil, err
		}
		s.backend = backend
		s.recorder = snapshot.NewRecorder(snapshot.SourceFunc(s.CurrentTable), backend, snapshot.Config{
			Schedule:  cfg.Limits.Snapshots.Schedule,
			Retention: cfg.Limits.Snapshots.Retention,
		})
	}

	r, err := s.buildRoute(cfg)
	if err != nil {
		_ = s.closeBackends()
		_ = s.shutdownTracer(context.Background())
		return nil, err
	}
	s.config.Store(cfg)
	s.route.Store(r)

	s.registerChecks(cfg)
	s.handler = s.setupRoutes(cfg)

	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config returns the configuration currently in effect.
func (s *Server) Config() *config.Config {
	return s.config.Load()
}

// CurrentTable returns the rule table serving requests, or nil when
// admission control is disabled.
func (s *Server) CurrentTable() *limits.Table {
	r := s.route.Load()
	if r == nil || r.limiter == nil {
		return nil
	}
	return r.limiter.Table()
}

// limitsEnabled reports whether the current route applies admission
// control.
func (s *Server) limitsEnabled() bool {
	r := s.route.Load()
	return r != nil && r.limits
}

// Reload replaces the limits route with one built from cfg. Budgets start
// fresh because the new route has its own table; the replaced table is
// retired so late releases into it leave the gauges alone. When snapshots
// are on, the new table is recorded at once, dropping rules it no longer
// has. Proxy, stats, snapshot and tracing settings only take effect on
// restart.
func (s *Server) Reload(cfg *config.Config) error {
	r, err := s.buildRoute(cfg)
	s.collector.RecordReload(err)
	if err != nil {
		s.logger.Error("configuration reload rejected", "error", err)
		return fmt.Errorf("failed to rebuild limits: %w", err)
	}

	old := s.config.Swap(cfg)
	prev := s.route.Swap(r)
	if prev != nil && prev.limiter != nil {
		var next *limits.Table
		if r.limiter != nil {
			next = r.limiter.Table()
		}
		prev.limiter.Table().Retire(next)
	}

	if old != nil {
		if old.Proxy != cfg.Proxy {
			s.logger.Warn("proxy settings changed; restart to apply")
		}
		if old.Limits.Stats != cfg.Limits.Stats || old.Limits.Snapshots != cfg.Limits.Snapshots {
			s.logger.Warn("stats or snapshot settings changed; restart to apply")
		}
		if old.Telemetry.Tracing != cfg.Telemetry.Tracing {
			s.logger.Warn("tracing settings changed; restart to apply")
		}
	}

	if s.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), reloadSnapshotTimeout)
		if _, err := s.recorder.RecordOnce(ctx); err != nil {
			s.logger.Warn("snapshot after reload failed", "error", err)
		}
		cancel()
	}

	if s.opts.OnReload != nil {
		s.opts.OnReload(cfg)
	}

	s.logger.Info("configuration reloaded",
		"limits_enabled", cfg.Limits.Enabled,
		"table", cfg.Limits.Name,
		"rules", len(cfg.Limits.Rules),
	)
	return nil
}

// buildRoute compiles the rules of cfg into a fresh limiter and wraps the
// forwarder with the request middleware.
func (s *Server) buildRoute(cfg *config.Config) (*route, error) {
	var lim *middleware.Limiter
	if cfg.Limits.Enabled {
		expiry, err := limits.ParseExpiryPolicy(cfg.Limits.ExpiryPolicy)
		if err != nil {
			return nil, err
		}
		layer, err := limits.NewLayer(cfg.Limits.LimitRules(), limits.Options{
			Name:        cfg.Limits.Name,
			Expiry:      expiry,
			AutoRelease: cfg.Limits.AutoRelease,
			Metrics:     s.collector.Limits(),
			Logger:      s.opts.Logger.With("component", "limits", "table", cfg.Limits.Name),
		})
		if err != nil {
			return nil, err
		}
		lim, err = middleware.NewLimiter(layer, cfg.Limits.MatchOn, cfg.Limits.KeyHeader)
		if err != nil {
			return nil, err
		}
	}

	limitsMW := middleware.LimitsMiddleware(func() *middleware.Limiter { return lim }, middleware.LimitsOptions{
		RejectStatus: cfg.Limits.RejectStatus,
		Stats:        s.stats.Store,
		Logger:       s.opts.Logger.With("component", "limits"),
	})

	var h http.Handler = s.forwarder
	h = limitsMW(h)
	h = middleware.RequestIDMiddleware(h)
	h = middleware.LoggingMiddleware(s.opts.Logger, s.collector.Requests())(h)
	h = middleware.TracingMiddleware(s.tracer)(h)

	return &route{limits: cfg.Limits.Enabled, limiter: lim, handler: h}, nil
}

func (s *Server) registerChecks(cfg *config.Config) {
	s.checker.RegisterCheck("rules", health.TableCheck(s.CurrentTable, s.limitsEnabled))
	if s.stats.Redis != nil {
		s.checker.RegisterCheck("stats_redis", health.PingCheck(s.stats.Redis.Ping))
	}
	if s.backend != nil {
		s.checker.RegisterCheck("snapshots", health.BackendCheck(s.backend, cfg.Limits.Name))
	}
}

// setupRoutes mounts the admin endpoints and sends everything else through
// the current limits route.
func (s *Server) setupRoutes(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	s.checker.Register(mux, s.opts.Version, s.opts.Commit, s.opts.BuildTime)
	if cfg.Telemetry.Metrics.Enabled {
		mux.Handle(cfg.Telemetry.Metrics.Path, s.collector.Handler())
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.route.Load().handler.ServeHTTP(w, r)
	}))

	return middleware.RecoveryMiddleware(s.opts.Logger)(mux)
}

// Start listens on the configured address and serves until ctx is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Config().Proxy.ListenAddress
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It starts the snapshot recorder and the
// config watcher, blocks until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server is already running")
	}
	s.running = true

	cfg := s.Config()
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    cfg.Proxy.ReadTimeout,
		WriteTimeout:   cfg.Proxy.WriteTimeout,
		IdleTimeout:    cfg.Proxy.IdleTimeout,
		MaxHeaderBytes: cfg.Proxy.MaxHeaderBytes,
	}
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.Start(ctx); err != nil {
			_ = ln.Close()
			return err
		}
	}

	if cfg.Watch && s.opts.ConfigPath != "" {
		w, err := config.NewWatcher(s.opts.ConfigPath, config.DefaultDebounceInterval, s.opts.Logger)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to start config watcher: %w", err)
		}
		s.watcher = w
		go func() {
			err := w.Watch(ctx, func(next *config.Config) { _ = s.Reload(next) })
			if err != nil {
				s.logger.Error("config watcher exited", "error", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gateway",
			"address", ln.Addr().String(),
			"upstream", s.forwarder.Upstream().Redacted(),
			"limits_enabled", cfg.Limits.Enabled,
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	}
}

// Shutdown drains connections, records a final snapshot and closes the
// backends. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		timeout := s.Config().Proxy.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		s.mu.Lock()
		srv := s.httpServer
		s.running = false
		s.mu.Unlock()

		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		if s.watcher != nil {
			_ = s.watcher.Stop()
		}

		if s.recorder != nil {
			s.recorder.Stop()
			if n, err := s.recorder.RecordOnce(shutdownCtx); err != nil {
				s.logger.Warn("final snapshot failed", "error", err)
			} else {
				s.logger.Info("final snapshot recorded", "rules", n)
			}
		}

		if err := s.closeBackends(); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
		if err := s.shutdownTracer(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("tracer: %w", err))
		}

		s.logger.Info("gateway stopped")
	})

	return shutdownErr
}

func (s *Server) closeBackends() error {
	var errs []error
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("snapshot backend: %w", err))
		}
	}
	if err := s.stats.Close(); err != nil {
		errs = append(errs, fmt.Errorf("stats store: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) shutdownTracer(ctx context.Context) error {
	if !s.ownTracer {
		return nil
	}
	return s.tracer.Shutdown(ctx)
}
