package config

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func fieldsOf(err error) []string {
	var verr ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	fields := make([]string, len(verr.Errors))
	for i, fe := range verr.Errors {
		fields[i] = fe.Field
	}
	return fields
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{
			name:   "defaults are valid",
			modify: func(*Config) {},
		},
		{
			name:      "empty listen address",
			modify:    func(c *Config) { c.Proxy.ListenAddress = "" },
			wantField: "proxy.listen_address",
		},
		{
			name:      "upstream without scheme",
			modify:    func(c *Config) { c.Proxy.UpstreamURL = "127.0.0.1:9000" },
			wantField: "proxy.upstream_url",
		},
		{
			name:      "upstream ftp scheme",
			modify:    func(c *Config) { c.Proxy.UpstreamURL = "ftp://files.local" },
			wantField: "proxy.upstream_url",
		},
		{
			name:      "negative read timeout",
			modify:    func(c *Config) { c.Proxy.ReadTimeout = -time.Second },
			wantField: "proxy.read_timeout",
		},
		{
			name:      "oversized headers",
			modify:    func(c *Config) { c.Proxy.MaxHeaderBytes = 11 * 1024 * 1024 },
			wantField: "proxy.max_header_bytes",
		},
		{
			name:      "unknown match_on",
			modify:    func(c *Config) { c.Limits.MatchOn = "body" },
			wantField: "limits.match_on",
		},
		{
			name:      "header matching without header name",
			modify:    func(c *Config) { c.Limits.MatchOn = "header" },
			wantField: "limits.key_header",
		},
		{
			name:      "unknown expiry policy",
			modify:    func(c *Config) { c.Limits.ExpiryPolicy = "lenient" },
			wantField: "limits.expiry_policy",
		},
		{
			name:      "2xx reject status",
			modify:    func(c *Config) { c.Limits.RejectStatus = 200 },
			wantField: "limits.reject_status",
		},
		{
			name: "empty pattern",
			modify: func(c *Config) {
				c.Limits.Rules = []RuleConfig{{Pattern: "", Limit: 1, Duration: time.Second}}
			},
			wantField: "limits.rules[0].pattern",
		},
		{
			name: "negative duration",
			modify: func(c *Config) {
				c.Limits.Rules = []RuleConfig{{Pattern: "x", Limit: 1, Duration: -time.Second}}
			},
			wantField: "limits.rules[0].duration",
		},
		{
			name: "limit above int64 range",
			modify: func(c *Config) {
				c.Limits.Rules = []RuleConfig{{Pattern: "x", Limit: math.MaxInt64 + 1, Duration: time.Second}}
			},
			wantField: "limits.rules[0].limit",
		},
		{
			name: "zero limit and zero duration are allowed",
			modify: func(c *Config) {
				c.Limits.Rules = []RuleConfig{{Pattern: "x", Limit: 0, Duration: 0}}
			},
		},
		{
			name:      "unknown stats backend",
			modify:    func(c *Config) { c.Limits.Stats.Backend = "kafka" },
			wantField: "limits.stats.backend",
		},
		{
			name:      "redis stats without address",
			modify:    func(c *Config) { c.Limits.Stats.Backend = "redis" },
			wantField: "limits.stats.redis.address",
		},
		{
			name: "bad snapshot schedule",
			modify: func(c *Config) {
				c.Limits.Snapshots.Enabled = true
				c.Limits.Snapshots.Schedule = "every minute"
			},
			wantField: "limits.snapshots.schedule",
		},
		{
			name: "bad schedule ignored while snapshots are off",
			modify: func(c *Config) {
				c.Limits.Snapshots.Schedule = "every minute"
			},
		},
		{
			name: "unknown sqlite driver",
			modify: func(c *Config) {
				c.Limits.Snapshots.Enabled = true
				c.Limits.Snapshots.SQLite.Driver = "sqlite4"
			},
			wantField: "limits.snapshots.sqlite.driver",
		},
		{
			name: "unknown snapshot backend",
			modify: func(c *Config) {
				c.Limits.Snapshots.Enabled = true
				c.Limits.Snapshots.Backend = "s3"
			},
			wantField: "limits.snapshots.backend",
		},
		{
			name:      "invalid log level",
			modify:    func(c *Config) { c.Telemetry.Logging.Level = "verbose" },
			wantField: "telemetry.logging.level",
		},
		{
			name:      "invalid log format",
			modify:    func(c *Config) { c.Telemetry.Logging.Format = "xml" },
			wantField: "telemetry.logging.format",
		},
		{
			name:      "metrics path without slash",
			modify:    func(c *Config) { c.Telemetry.Metrics.Path = "metrics" },
			wantField: "telemetry.metrics.path",
		},
		{
			name:      "tracing sampler unknown",
			modify:    func(c *Config) { c.Telemetry.Tracing.Enabled = true; c.Telemetry.Tracing.Sampler = "sometimes" },
			wantField: "telemetry.tracing.sampler",
		},
		{
			name:      "tracing ratio above one",
			modify:    func(c *Config) { c.Telemetry.Tracing.Enabled = true; c.Telemetry.Tracing.SampleRatio = 1.5 },
			wantField: "telemetry.tracing.sample_ratio",
		},
		{
			name:   "tracing settings ignored while disabled",
			modify: func(c *Config) { c.Telemetry.Tracing.Sampler = "sometimes" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.modify(cfg)

			err := Validate(cfg)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}

			fields := fieldsOf(err)
			if len(fields) != 1 || fields[0] != tt.wantField {
				t.Errorf("expected error on %q, got %v", tt.wantField, err)
			}
		})
	}
}

func TestValidationError_Format(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if got := single.Error(); got != "configuration validation failed: a: bad" {
		t.Errorf("unexpected single error format: %q", got)
	}

	multi := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	got := multi.Error()
	if !strings.Contains(got, "with 2 errors") || !strings.Contains(got, "  - b: worse") {
		t.Errorf("unexpected multi error format: %q", got)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := NewDefault()
	cfg.Proxy.ListenAddress = ""
	cfg.Limits.ExpiryPolicy = "lenient"
	cfg.Telemetry.Logging.Level = "loud"

	fields := fieldsOf(Validate(cfg))
	if len(fields) != 3 {
		t.Errorf("expected 3 field errors, got %v", fields)
	}
}
