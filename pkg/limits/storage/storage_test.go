package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/limitgate/pkg/limits"
)

func sampleState(table string, rule int) *RuleState {
	return &RuleState{
		Table:       table,
		Rule:        rule,
		Pattern:     "^GET /reports",
		Capacity:    3,
		Available:   1,
		Window:      50 * time.Second,
		WindowStart: time.UnixMilli(1700000000123),
		Counters: Counters{
			Admitted:   12,
			Rejected:   4,
			FreePasses: 1,
			Released:   10,
		},
	}
}

// backendFactories returns every backend implementation under test.
func backendFactories(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			b := NewMemoryBackend()
			t.Cleanup(func() { b.Close() })
			return b
		},
		"sqlite": func(t *testing.T) Backend {
			return newTestSQLiteBackend(t, DriverPureGo)
		},
	}
}

func newTestSQLiteBackend(t *testing.T, driver string) *SQLiteBackend {
	t.Helper()

	backend, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:             filepath.Join(t.TempDir(), "test.db"),
		Driver:             driver,
		CheckpointInterval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestBackend_SaveAndLoad(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			ctx := context.Background()

			state := sampleState("gateway", 0)
			require.NoError(t, backend.Save(ctx, state))

			loaded, err := backend.Load(ctx, "gateway", 0)
			require.NoError(t, err)
			require.NotNil(t, loaded)

			assert.Equal(t, "gateway", loaded.Table)
			assert.Equal(t, 0, loaded.Rule)
			assert.Equal(t, state.Pattern, loaded.Pattern)
			assert.Equal(t, uint(3), loaded.Capacity)
			assert.Equal(t, int64(1), loaded.Available)
			assert.Equal(t, 50*time.Second, loaded.Window)
			assert.True(t, state.WindowStart.Equal(loaded.WindowStart), "window start %v != %v", loaded.WindowStart, state.WindowStart)
			assert.Equal(t, state.Counters, loaded.Counters)
			assert.False(t, loaded.LastUpdated.IsZero())
			assert.False(t, loaded.CreatedAt.IsZero())
		})
	}
}

func TestBackend_LoadNonExistent(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)

			state, err := backend.Load(context.Background(), "nope", 3)
			require.NoError(t, err)
			assert.Nil(t, state)
		})
	}
}

func TestBackend_UpdateKeepsCreatedAt(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			ctx := context.Background()

			first := sampleState("gateway", 1)
			first.CreatedAt = time.Unix(1600000000, 0)
			first.LastUpdated = time.Unix(1600000000, 0)
			require.NoError(t, backend.Save(ctx, first))

			second := sampleState("gateway", 1)
			second.Available = 3
			second.WindowStart = time.Time{}
			second.LastUpdated = time.Unix(1600000600, 0)
			require.NoError(t, backend.Save(ctx, second))

			loaded, err := backend.Load(ctx, "gateway", 1)
			require.NoError(t, err)
			require.NotNil(t, loaded)

			assert.Equal(t, int64(3), loaded.Available)
			assert.True(t, loaded.WindowStart.IsZero())
			assert.Equal(t, int64(1600000000), loaded.CreatedAt.Unix())
			assert.Equal(t, int64(1600000600), loaded.LastUpdated.Unix())
		})
	}
}

func TestBackend_Delete(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			ctx := context.Background()

			require.NoError(t, backend.Save(ctx, sampleState("gateway", 0)))
			require.NoError(t, backend.Delete(ctx, "gateway", 0))
			require.NoError(t, backend.Delete(ctx, "gateway", 0), "deleting twice is a no-op")

			loaded, err := backend.Load(ctx, "gateway", 0)
			require.NoError(t, err)
			assert.Nil(t, loaded)
		})
	}
}

func TestBackend_List(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			ctx := context.Background()

			for _, rule := range []int{2, 0, 1} {
				require.NoError(t, backend.Save(ctx, sampleState("gateway", rule)))
			}
			require.NoError(t, backend.Save(ctx, sampleState("admin", 0)))

			states, err := backend.List(ctx, "gateway")
			require.NoError(t, err)
			require.Len(t, states, 3)
			for i, s := range states {
				assert.Equal(t, i, s.Rule, "states should be ordered by rule index")
				assert.Equal(t, "gateway", s.Table)
			}

			all, err := backend.List(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "admin", all[0].Table)

			none, err := backend.List(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestBackend_Cleanup(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			ctx := context.Background()

			old := sampleState("gateway", 0)
			old.LastUpdated = time.Now().Add(-2 * time.Hour)
			require.NoError(t, backend.Save(ctx, old))

			fresh := sampleState("gateway", 1)
			fresh.LastUpdated = time.Now()
			require.NoError(t, backend.Save(ctx, fresh))

			deleted, err := backend.Cleanup(ctx, time.Now().Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, deleted)

			states, err := backend.List(ctx, "gateway")
			require.NoError(t, err)
			require.Len(t, states, 1)
			assert.Equal(t, 1, states[0].Rule)
		})
	}
}

func TestBackend_Validation(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			ctx := context.Background()

			assert.Error(t, backend.Save(ctx, nil))
			assert.Error(t, backend.Save(ctx, &RuleState{Rule: 0}))
			assert.Error(t, backend.Save(ctx, &RuleState{Table: "t", Rule: -1}))

			_, err := backend.Load(ctx, "", 0)
			assert.Error(t, err)
			assert.Error(t, backend.Delete(ctx, "t", -1))
		})
	}
}

func TestBackend_Concurrent(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					table := fmt.Sprintf("t%d", i%4)
					assert.NoError(t, backend.Save(ctx, sampleState(table, i)))
					_, err := backend.List(ctx, table)
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			all, err := backend.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 20)
		})
	}
}

func TestMemoryBackend_MaxEntries(t *testing.T) {
	backend := NewMemoryBackendWithConfig(MemoryBackendConfig{MaxEntries: 2})
	defer backend.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s := sampleState("gateway", i)
		s.LastUpdated = time.Unix(int64(1000+i), 0)
		require.NoError(t, backend.Save(ctx, s))
	}

	assert.Equal(t, 2, backend.Size())
	evicted, err := backend.Load(ctx, "gateway", 0)
	require.NoError(t, err)
	assert.Nil(t, evicted, "oldest entry should be evicted")
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()
	ctx := context.Background()

	state := sampleState("gateway", 0)
	require.NoError(t, backend.Save(ctx, state))
	state.Available = 99

	loaded, err := backend.Load(ctx, "gateway", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Available)
}

func TestSQLiteBackend_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	backend, err := NewSQLiteBackend(dbPath)
	require.NoError(t, err)
	require.NoError(t, backend.Save(ctx, sampleState("gateway", 0)))
	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close(), "close is idempotent")

	reopened, err := NewSQLiteBackend(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "gateway", 0)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(12), loaded.Counters.Admitted)
}

func TestSQLiteBackend_Config(t *testing.T) {
	_, err := NewSQLiteBackend("")
	assert.Error(t, err)

	_, err = NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: "x.db", Driver: "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sqlite driver")
}

func TestSQLiteBackend_CGODriver(t *testing.T) {
	backend, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath: filepath.Join(t.TempDir(), "cgo.db"),
		Driver: DriverCGO,
	})
	if err != nil {
		t.Skipf("cgo sqlite driver unavailable: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	require.NoError(t, backend.Save(ctx, sampleState("gateway", 4)))
	loaded, err := backend.Load(ctx, "gateway", 4)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, DriverCGO, backend.Driver())
}

func TestFromStatus(t *testing.T) {
	start := time.Unix(1700000000, 0)
	at := start.Add(time.Minute)

	open := FromStatus("gateway", limits.RuleStatus{
		Index:       2,
		Pattern:     "^GET",
		Capacity:    5,
		Available:   3,
		Window:      time.Second,
		Opened:      true,
		WindowStart: start,
		Admitted:    7,
		Overflows:   1,
	}, at)

	assert.Equal(t, 2, open.Rule)
	assert.Equal(t, start, open.WindowStart)
	assert.Equal(t, uint64(7), open.Counters.Admitted)
	assert.Equal(t, uint64(1), open.Counters.Overflows)
	assert.Equal(t, at, open.LastUpdated)

	closed := FromStatus("gateway", limits.RuleStatus{Index: 0, WindowStart: start}, at)
	assert.True(t, closed.WindowStart.IsZero(), "closed window should not carry a start time")
}
