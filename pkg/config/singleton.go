package config

import (
	"sync"
	"sync/atomic"
)

var (
	// current is the process-wide configuration in effect.
	current atomic.Pointer[Config]

	initOnce sync.Once
	initErr  error
)

// Initialize loads the configuration at path, with environment overrides,
// and installs it as the process-wide configuration. Only the first call
// loads; later calls return the first call's error.
func Initialize(path string) error {
	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		current.Store(cfg)
	})
	return initErr
}

// GetConfig returns the configuration in effect, or nil before a successful
// Initialize.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig replaces the configuration in effect. The gateway calls it
// after a reload has been applied.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}
