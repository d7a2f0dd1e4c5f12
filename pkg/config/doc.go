// Package config provides configuration management for the limitgate gateway.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention LIMITGATE_SECTION_FIELD.
// For example:
//
//   - LIMITGATE_PROXY_LISTEN_ADDRESS overrides proxy.listen_address
//   - LIMITGATE_LIMITS_EXPIRY_POLICY overrides limits.expiry_policy
//   - LIMITGATE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//   - LIMITGATE_TELEMETRY_TRACING_SAMPLE_RATIO overrides telemetry.tracing.sample_ratio
//
// Rules can only be set in the file.
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// A Watcher observes the configuration file with fsnotify and calls back
// after writes settle. The gateway uses it to rebuild its rule table
// without restarting.
package config
