package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "LIMITGATE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults without validating. Unknown
// fields are rejected so that a misspelled key does not silently fall back
// to its default.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefault()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention LIMITGATE_SECTION_FIELD (e.g., LIMITGATE_PROXY_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Proxy overrides
	envString("PROXY_LISTEN_ADDRESS", &cfg.Proxy.ListenAddress)
	envString("PROXY_UPSTREAM_URL", &cfg.Proxy.UpstreamURL)
	envDuration("PROXY_READ_TIMEOUT", &cfg.Proxy.ReadTimeout)
	envDuration("PROXY_WRITE_TIMEOUT", &cfg.Proxy.WriteTimeout)
	envDuration("PROXY_IDLE_TIMEOUT", &cfg.Proxy.IdleTimeout)
	envDuration("PROXY_SHUTDOWN_TIMEOUT", &cfg.Proxy.ShutdownTimeout)
	envInt("PROXY_MAX_HEADER_BYTES", &cfg.Proxy.MaxHeaderBytes)

	// Limits overrides
	envBool("LIMITS_ENABLED", &cfg.Limits.Enabled)
	envString("LIMITS_NAME", &cfg.Limits.Name)
	envString("LIMITS_MATCH_ON", &cfg.Limits.MatchOn)
	envString("LIMITS_KEY_HEADER", &cfg.Limits.KeyHeader)
	envBool("LIMITS_AUTO_RELEASE", &cfg.Limits.AutoRelease)
	envString("LIMITS_EXPIRY_POLICY", &cfg.Limits.ExpiryPolicy)
	envInt("LIMITS_REJECT_STATUS", &cfg.Limits.RejectStatus)

	// Stats overrides
	envString("LIMITS_STATS_BACKEND", &cfg.Limits.Stats.Backend)
	envString("LIMITS_STATS_REDIS_ADDRESS", &cfg.Limits.Stats.Redis.Address)
	envString("LIMITS_STATS_REDIS_PASSWORD", &cfg.Limits.Stats.Redis.Password)
	envInt("LIMITS_STATS_REDIS_DB", &cfg.Limits.Stats.Redis.DB)
	envString("LIMITS_STATS_REDIS_PREFIX", &cfg.Limits.Stats.Redis.Prefix)
	envDuration("LIMITS_STATS_REDIS_TTL", &cfg.Limits.Stats.Redis.TTL)

	// Snapshot overrides
	envBool("LIMITS_SNAPSHOTS_ENABLED", &cfg.Limits.Snapshots.Enabled)
	envString("LIMITS_SNAPSHOTS_SCHEDULE", &cfg.Limits.Snapshots.Schedule)
	envDuration("LIMITS_SNAPSHOTS_RETENTION", &cfg.Limits.Snapshots.Retention)
	envString("LIMITS_SNAPSHOTS_BACKEND", &cfg.Limits.Snapshots.Backend)
	envString("LIMITS_SNAPSHOTS_SQLITE_PATH", &cfg.Limits.Snapshots.SQLite.Path)
	envString("LIMITS_SNAPSHOTS_SQLITE_DRIVER", &cfg.Limits.Snapshots.SQLite.Driver)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_LOGGING_ADD_SOURCE", &cfg.Telemetry.Logging.AddSource)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envBool("TELEMETRY_TRACING_INSECURE", &cfg.Telemetry.Tracing.Insecure)
	envString("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	envBool("WATCH", &cfg.Watch)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}
