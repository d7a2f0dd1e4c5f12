package config

import (
	"time"

	"mercator-hq/limitgate/pkg/limits"
)

// Config is the root configuration structure for limitgate.
type Config struct {
	// Proxy contains HTTP server and upstream configuration.
	Proxy ProxyConfig `yaml:"proxy"`

	// Limits contains the admission rules and their supporting stores.
	Limits LimitsConfig `yaml:"limits"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Watch reloads rules when the configuration file changes.
	// Default: false
	Watch bool `yaml:"watch"`
}

// ProxyConfig contains configuration for the HTTP gateway.
type ProxyConfig struct {
	// ListenAddress is the address and port for the gateway to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// UpstreamURL is the service admitted requests are forwarded to.
	// Example: "http://127.0.0.1:9000"
	UpstreamURL string `yaml:"upstream_url"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// LimitsConfig contains the admission control configuration.
type LimitsConfig struct {
	// Enabled turns admission control on. When false every request is
	// forwarded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Name labels the rule table in metrics, logs and snapshots.
	// Default: "gateway"
	Name string `yaml:"name"`

	// MatchOn selects the text rules are matched against.
	// Options: "request_line" ("METHOD /path?query"), "path", "header"
	// Default: "request_line"
	MatchOn string `yaml:"match_on"`

	// KeyHeader is the header matched when MatchOn is "header".
	// Requests without the header are matched as the empty string.
	KeyHeader string `yaml:"key_header"`

	// AutoRelease returns the permit as soon as the upstream call finishes,
	// even when it fails. When false the gateway releases after a
	// successful upstream call only, and a failed call keeps its permit
	// until the window resets.
	// Default: false
	AutoRelease bool `yaml:"auto_release"`

	// ExpiryPolicy controls the first request after a window elapses.
	// Options: "free_pass", "strict"
	// Default: "free_pass"
	ExpiryPolicy string `yaml:"expiry_policy"`

	// RejectStatus is the HTTP status returned for rejected requests.
	// Default: 429
	RejectStatus int `yaml:"reject_status"`

	// Rules are evaluated in order; the first matching rule decides.
	Rules []RuleConfig `yaml:"rules"`

	// Stats configures the decision statistics sink.
	Stats StatsConfig `yaml:"stats"`

	// Snapshots configures periodic persistence of rule state.
	Snapshots SnapshotsConfig `yaml:"snapshots"`
}

// RuleConfig is one admission rule.
type RuleConfig struct {
	// Pattern is a regular expression (RE2 syntax).
	Pattern string `yaml:"pattern"`

	// Limit is the number of permits per window.
	Limit uint `yaml:"limit"`

	// Duration is the window length, e.g. "50s".
	Duration time.Duration `yaml:"duration"`
}

// LimitRules converts the configured rules to limits.Rule values.
func (c *LimitsConfig) LimitRules() []limits.Rule {
	rules := make([]limits.Rule, len(c.Rules))
	for i, r := range c.Rules {
		rules[i] = limits.Rule{Pattern: r.Pattern, Capacity: r.Limit, Window: r.Duration}
	}
	return rules
}

// StatsConfig configures where decision statistics are recorded.
type StatsConfig struct {
	// Backend selects the store.
	// Options: "none", "memory", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Redis contains Redis store configuration.
	Redis RedisStatsConfig `yaml:"redis"`
}

// RedisStatsConfig configures the Redis statistics store.
type RedisStatsConfig struct {
	// Address is the Redis server address, host:port.
	Address string `yaml:"address"`

	// Password for AUTH. Empty disables authentication.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// Prefix is prepended to every key.
	// Default: "limitgate:stats"
	Prefix string `yaml:"prefix"`

	// TTL expires per-minute and per-rule hashes.
	// Default: 24h
	TTL time.Duration `yaml:"ttl"`

	// TrackRules keeps a hash per rule.
	// Default: true
	TrackRules bool `yaml:"track_rules"`
}

// SnapshotsConfig configures the snapshot recorder.
type SnapshotsConfig struct {
	// Enabled turns on periodic snapshots.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor.
	// Default: "@every 1m"
	Schedule string `yaml:"schedule"`

	// Retention drops snapshots not refreshed within this period.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`

	// Backend selects the storage backend.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite backend configuration.
	SQLite SnapshotSQLiteConfig `yaml:"sqlite"`

	// Memory contains memory backend configuration.
	Memory SnapshotMemoryConfig `yaml:"memory"`
}

// SnapshotSQLiteConfig contains SQLite storage configuration.
type SnapshotSQLiteConfig struct {
	// Path is the path to the SQLite database file.
	// Default: "data/limitgate.db"
	Path string `yaml:"path"`

	// Driver selects the SQLite driver.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long to wait for database locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// SnapshotMemoryConfig contains memory backend configuration.
type SnapshotMemoryConfig struct {
	// MaxEntries is the maximum number of rule states kept.
	// Default: 10000
	MaxEntries int `yaml:"max_entries"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled exposes Prometheus metrics.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled exports a span per proxied request over OTLP/gRPC.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ServiceName is the service.name resource attribute.
	// Default: "limitgate"
	ServiceName string `yaml:"service_name"`

	// Endpoint is the OTLP collector address, host:port.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// Sampler determines the sampling strategy. Every sampler respects
	// the sampling decision of an incoming parent span.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample when Sampler is
	// "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`
}
