package config

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/limitgate/pkg/limits"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "limits.rules[0].pattern").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateProxy validates proxy configuration.
func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "proxy.listen_address",
			Message: "listen address is required",
		})
	}

	if cfg.UpstreamURL != "" {
		u, err := url.Parse(cfg.UpstreamURL)
		switch {
		case err != nil:
			errs = append(errs, FieldError{
				Field:   "proxy.upstream_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, FieldError{
				Field:   "proxy.upstream_url",
				Message: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme),
			})
		case u.Host == "":
			errs = append(errs, FieldError{
				Field:   "proxy.upstream_url",
				Message: "host is required",
			})
		}
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "proxy.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}

	return errs
}

// validateLimits validates admission rules and their stores.
func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.Name == "" {
		errs = append(errs, FieldError{Field: "limits.name", Message: "table name is required"})
	}

	switch cfg.MatchOn {
	case "request_line", "path":
	case "header":
		if cfg.KeyHeader == "" {
			errs = append(errs, FieldError{
				Field:   "limits.key_header",
				Message: "key header is required when match_on is header",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits.match_on",
			Message: fmt.Sprintf("invalid value %q (must be request_line, path, or header)", cfg.MatchOn),
		})
	}

	if _, err := limits.ParseExpiryPolicy(cfg.ExpiryPolicy); err != nil {
		errs = append(errs, FieldError{Field: "limits.expiry_policy", Message: err.Error()})
	}

	if cfg.RejectStatus < 400 || cfg.RejectStatus > 599 || http.StatusText(cfg.RejectStatus) == "" {
		errs = append(errs, FieldError{
			Field:   "limits.reject_status",
			Message: fmt.Sprintf("must be a 4xx or 5xx HTTP status, got %d", cfg.RejectStatus),
		})
	}

	for i, r := range cfg.Rules {
		prefix := fmt.Sprintf("limits.rules[%d]", i)
		if r.Pattern == "" {
			errs = append(errs, FieldError{Field: prefix + ".pattern", Message: "pattern is required"})
		} else if _, err := (limits.Rule{Pattern: r.Pattern}).Compile(); err != nil {
			errs = append(errs, FieldError{
				Field:   prefix + ".pattern",
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
		if uint64(r.Limit) > math.MaxInt64 {
			errs = append(errs, FieldError{
				Field:   prefix + ".limit",
				Message: fmt.Sprintf("limit must not exceed %d, got %d", int64(math.MaxInt64), r.Limit),
			})
		}
		if r.Duration < 0 {
			errs = append(errs, FieldError{Field: prefix + ".duration", Message: "duration must not be negative"})
		}
	}

	errs = append(errs, validateStats(&cfg.Stats)...)
	errs = append(errs, validateSnapshots(&cfg.Snapshots)...)

	return errs
}

func validateStats(cfg *StatsConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "none", "memory":
	case "redis":
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{
				Field:   "limits.stats.redis.address",
				Message: "address is required for the redis backend",
			})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "limits.stats.redis.db", Message: "db must be non-negative"})
		}
		if cfg.Redis.TTL < 0 {
			errs = append(errs, FieldError{Field: "limits.stats.redis.ttl", Message: "ttl must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits.stats.backend",
			Message: fmt.Sprintf("invalid backend %q (must be none, memory, or redis)", cfg.Backend),
		})
	}

	return errs
}

func validateSnapshots(cfg *SnapshotsConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError

	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "limits.snapshots.schedule",
			Message: fmt.Sprintf("invalid cron schedule: %v", err),
		})
	}
	if cfg.Retention < 0 {
		errs = append(errs, FieldError{Field: "limits.snapshots.retention", Message: "retention must not be negative"})
	}

	switch cfg.Backend {
	case "memory":
		if cfg.Memory.MaxEntries < 0 {
			errs = append(errs, FieldError{
				Field:   "limits.snapshots.memory.max_entries",
				Message: "max entries must be non-negative",
			})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "limits.snapshots.sqlite.path", Message: "path is required"})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "limits.snapshots.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q (must be sqlite or sqlite3)", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "limits.snapshots.sqlite.busy_timeout",
				Message: "busy timeout must not be negative",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits.snapshots.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory or sqlite)", cfg.Backend),
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}

	switch cfg.Logging.Format {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json, text, or console)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never, or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: fmt.Sprintf("sample ratio must be between 0 and 1, got %g", cfg.Tracing.SampleRatio),
			})
		}
		if cfg.Tracing.Timeout < 0 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.timeout",
				Message: "timeout must not be negative",
			})
		}
	}

	return errs
}
