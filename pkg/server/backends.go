package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"mercator-hq/limitgate/pkg/config"
	"mercator-hq/limitgate/pkg/limits/stats"
	"mercator-hq/limitgate/pkg/limits/storage"
)

// StatsStore is a decision statistics store together with the Redis client
// behind it, if any.
type StatsStore struct {
	Store stats.Store
	Redis *redis.Client
}

// Close releases the Redis connection pool.
func (s *StatsStore) Close() error {
	if s == nil || s.Redis == nil {
		return nil
	}
	return s.Redis.Close()
}

// OpenStatsStore builds the store selected by cfg.Backend. The "none"
// backend returns a StatsStore with a nil Store.
func OpenStatsStore(ctx context.Context, cfg config.StatsConfig) (*StatsStore, error) {
	switch cfg.Backend {
	case "none":
		return &StatsStore{}, nil
	case "memory", "":
		return &StatsStore{Store: stats.NewMemoryStore()}, nil
	case "redis":
		rdb, err := stats.DialRedis(ctx, stats.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		store := stats.NewRedisStore(rdb,
			stats.WithPrefix(cfg.Redis.Prefix),
			stats.WithTTL(cfg.Redis.TTL),
			stats.WithRedisRuleTracking(cfg.Redis.TrackRules),
		)
		return &StatsStore{Store: store, Redis: rdb}, nil
	default:
		return nil, fmt.Errorf("unknown stats backend %q", cfg.Backend)
	}
}

// OpenSnapshotBackend builds the storage backend selected by cfg.Backend.
// The SQLite file's directory is created if needed.
func OpenSnapshotBackend(cfg config.SnapshotsConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryBackendWithConfig(storage.MemoryBackendConfig{
			MaxEntries:      cfg.Memory.MaxEntries,
			RetentionPeriod: cfg.Retention,
		}), nil
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
			}
		}
		backend, err := storage.NewSQLiteBackendWithConfig(storage.SQLiteBackendConfig{
			DBPath:             cfg.SQLite.Path,
			Driver:             cfg.SQLite.Driver,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot database: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}
