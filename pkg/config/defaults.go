package config

import "time"

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Limits defaults
	DefaultLimitsEnabled      = true
	DefaultLimitsName         = "gateway"
	DefaultLimitsMatchOn      = "request_line"
	DefaultLimitsExpiryPolicy = "free_pass"
	DefaultLimitsRejectStatus = 429

	// Stats defaults
	DefaultStatsBackend         = "memory"
	DefaultStatsRedisPrefix     = "limitgate:stats"
	DefaultStatsRedisTTL        = 24 * time.Hour
	DefaultStatsRedisTrackRules = true

	// Snapshot defaults
	DefaultSnapshotsEnabled           = false
	DefaultSnapshotsSchedule          = "@every 1m"
	DefaultSnapshotsRetention         = 24 * time.Hour
	DefaultSnapshotsBackend           = "sqlite"
	DefaultSnapshotsSQLitePath        = "data/limitgate.db"
	DefaultSnapshotsSQLiteDriver      = "sqlite"
	DefaultSnapshotsSQLiteBusyTimeout = 5 * time.Second
	DefaultSnapshotsSQLiteCheckpoint  = 5 * time.Minute
	DefaultSnapshotsMemoryMaxEntries  = 10000

	// Telemetry defaults
	DefaultLoggingLevel   = "info"
	DefaultLoggingFormat  = "json"
	DefaultMetricsEnabled = true
	DefaultMetricsPath    = "/metrics"

	DefaultTracingServiceName = "limitgate"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
)

// NewDefault returns a Config with every field at its default value.
// LoadConfig decodes YAML on top of it, so boolean options that default to
// true stay true unless the file sets them.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Limits.Enabled = DefaultLimitsEnabled
	cfg.Limits.Stats.Redis.TrackRules = DefaultStatsRedisTrackRules
	cfg.Limits.Snapshots.Enabled = DefaultSnapshotsEnabled
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Proxy defaults
	if cfg.Proxy.ListenAddress == "" {
		cfg.Proxy.ListenAddress = DefaultListenAddress
	}
	if cfg.Proxy.ReadTimeout == 0 {
		cfg.Proxy.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Proxy.WriteTimeout == 0 {
		cfg.Proxy.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Proxy.IdleTimeout == 0 {
		cfg.Proxy.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Proxy.MaxHeaderBytes == 0 {
		cfg.Proxy.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	// Limits defaults
	if cfg.Limits.Name == "" {
		cfg.Limits.Name = DefaultLimitsName
	}
	if cfg.Limits.MatchOn == "" {
		cfg.Limits.MatchOn = DefaultLimitsMatchOn
	}
	if cfg.Limits.ExpiryPolicy == "" {
		cfg.Limits.ExpiryPolicy = DefaultLimitsExpiryPolicy
	}
	if cfg.Limits.RejectStatus == 0 {
		cfg.Limits.RejectStatus = DefaultLimitsRejectStatus
	}

	// Stats defaults
	if cfg.Limits.Stats.Backend == "" {
		cfg.Limits.Stats.Backend = DefaultStatsBackend
	}
	if cfg.Limits.Stats.Redis.Prefix == "" {
		cfg.Limits.Stats.Redis.Prefix = DefaultStatsRedisPrefix
	}
	if cfg.Limits.Stats.Redis.TTL == 0 {
		cfg.Limits.Stats.Redis.TTL = DefaultStatsRedisTTL
	}

	// Snapshot defaults
	snap := &cfg.Limits.Snapshots
	if snap.Schedule == "" {
		snap.Schedule = DefaultSnapshotsSchedule
	}
	if snap.Retention == 0 {
		snap.Retention = DefaultSnapshotsRetention
	}
	if snap.Backend == "" {
		snap.Backend = DefaultSnapshotsBackend
	}
	if snap.SQLite.Path == "" {
		snap.SQLite.Path = DefaultSnapshotsSQLitePath
	}
	if snap.SQLite.Driver == "" {
		snap.SQLite.Driver = DefaultSnapshotsSQLiteDriver
	}
	if snap.SQLite.BusyTimeout == 0 {
		snap.SQLite.BusyTimeout = DefaultSnapshotsSQLiteBusyTimeout
	}
	if snap.SQLite.CheckpointInterval == 0 {
		snap.SQLite.CheckpointInterval = DefaultSnapshotsSQLiteCheckpoint
	}
	if snap.Memory.MaxEntries == 0 {
		snap.Memory.MaxEntries = DefaultSnapshotsMemoryMaxEntries
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}

	tr := &cfg.Telemetry.Tracing
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultTracingServiceName
	}
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.Timeout == 0 {
		tr.Timeout = DefaultTracingTimeout
	}
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
	}
	if tr.SampleRatio == 0 && tr.Sampler == DefaultTracingSampler {
		tr.SampleRatio = DefaultTracingSampleRatio
	}
}
