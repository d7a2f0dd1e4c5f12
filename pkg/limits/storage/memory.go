package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	errNilState     = errors.New("state cannot be nil")
	errEmptyTable   = errors.New("table cannot be empty")
	errNegativeRule = errors.New("rule index cannot be negative")
)

// MemoryBackend implements Backend using in-memory storage.
// This is the default backend and provides fast access with no persistence.
//
// MemoryBackend is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryBackend struct {
	// states maps composite key (table:rule) to rule state.
	states map[string]*RuleState

	// mu protects access to states map.
	mu sync.RWMutex

	// maxEntries is the maximum number of entries before the oldest is evicted.
	maxEntries int

	// cleanupInterval is how often to run cleanup.
	cleanupInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxEntries is the maximum number of rule states to store.
	// Oldest entries are evicted when this limit is reached.
	// Default: 10,000
	MaxEntries int

	// CleanupInterval is how often to drop entries older than RetentionPeriod.
	// Default: 1 minute
	CleanupInterval time.Duration

	// RetentionPeriod is how long to keep entries that are not updated.
	// Default: 24 hours
	RetentionPeriod time.Duration
}

// NewMemoryBackend creates a new in-memory storage backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a new in-memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}

	backend := &MemoryBackend{
		states:          make(map[string]*RuleState),
		maxEntries:      cfg.MaxEntries,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}

	go backend.cleanupLoop(cfg.RetentionPeriod)

	return backend
}

// Save persists the state of one rule.
func (m *MemoryBackend) Save(ctx context.Context, state *RuleState) error {
	if state == nil {
		return errNilState
	}
	if err := validateKey(state.Table, state.Rule); err != nil {
		return err
	}

	key := makeKey(state.Table, state.Rule)
	stored := *state

	now := time.Now()
	if stored.LastUpdated.IsZero() {
		stored.LastUpdated = now
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.states[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		if len(m.states) >= m.maxEntries {
			m.evictOldestLocked()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	}

	m.states[key] = &stored
	return nil
}

// Load retrieves the state of one rule.
func (m *MemoryBackend) Load(ctx context.Context, table string, rule int) (*RuleState, error) {
	if err := validateKey(table, rule); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[makeKey(table, rule)]
	if !exists {
		return nil, nil
	}
	out := *state
	return &out, nil
}

// Delete removes the state of one rule.
func (m *MemoryBackend) Delete(ctx context.Context, table string, rule int) error {
	if err := validateKey(table, rule); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, makeKey(table, rule))
	return nil
}

// List returns the rule states of a table, or of every table when table is empty.
func (m *MemoryBackend) List(ctx context.Context, table string) ([]*RuleState, error) {
	m.mu.RLock()
	var states []*RuleState
	for _, state := range m.states {
		if table == "" || state.Table == table {
			out := *state
			states = append(states, &out)
		}
	}
	m.mu.RUnlock()

	sortStates(states)
	return states, nil
}

// Cleanup removes entries last updated before olderThan.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key, state := range m.states {
		if state.LastUpdated.Before(olderThan) {
			delete(m.states, key)
			deleted++
		}
	}

	return deleted, nil
}

// Close stops the cleanup goroutine. Close is idempotent.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

// Size returns the current number of stored states.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func makeKey(table string, rule int) string {
	return fmt.Sprintf("%s:%d", table, rule)
}

// evictOldestLocked evicts the least recently updated entry.
// Caller must hold write lock.
func (m *MemoryBackend) evictOldestLocked() {
	var (
		oldestKey   string
		oldestTime  time.Time
		foundOldest bool
	)

	for key, state := range m.states {
		if !foundOldest || state.LastUpdated.Before(oldestTime) {
			oldestKey = key
			oldestTime = state.LastUpdated
			foundOldest = true
		}
	}

	if foundOldest {
		delete(m.states, oldestKey)
	}
}

func (m *MemoryBackend) cleanupLoop(retentionPeriod time.Duration) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-retentionPeriod)
			_, _ = m.Cleanup(context.Background(), cutoff)
		case <-m.done:
			return
		}
	}
}

func sortStates(states []*RuleState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].Table != states[j].Table {
			return states[i].Table < states[j].Table
		}
		return states[i].Rule < states[j].Rule
	})
}
