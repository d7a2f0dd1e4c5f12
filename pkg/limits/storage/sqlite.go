package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go SQLite driver, registered as "sqlite"
)

// SQLite driver names accepted by SQLiteBackendConfig.Driver.
const (
	DriverPureGo = "sqlite"
	DriverCGO    = "sqlite3"
)

// SQLiteBackend implements Backend using SQLite for persistence.
// Snapshots survive restarts, which lets the CLI inspect the last known
// state of a gateway that is no longer running.
//
// SQLiteBackend uses a write-ahead log (WAL) and checkpoints it
// periodically in the background.
type SQLiteBackend struct {
	db                 *sql.DB
	dbPath             string
	driver             string
	checkpointInterval time.Duration
	done               chan struct{}
	mu                 sync.RWMutex
	closeOnce          sync.Once

	saveStmt    *sql.Stmt
	loadStmt    *sql.Stmt
	deleteStmt  *sql.Stmt
	listStmt    *sql.Stmt
	listAllStmt *sql.Stmt
	cleanupStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Driver selects the database/sql driver: DriverPureGo or DriverCGO.
	// Default: DriverPureGo
	Driver string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverPureGo
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn, err := sqliteDSN(cfg.Driver, cfg.DBPath, cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		dbPath:             cfg.DBPath,
		driver:             cfg.Driver,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// sqliteDSN builds a DSN enabling WAL mode and a busy timeout. The two
// drivers spell connection pragmas differently.
func sqliteDSN(driver, path string, busyTimeout time.Duration) (string, error) {
	ms := int(busyTimeout.Milliseconds())
	switch driver {
	case DriverPureGo:
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
			path, ms), nil
	case DriverCGO:
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
			path, ms), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q (expected %s or %s)", driver, DriverPureGo, DriverCGO)
	}
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rule_states (
		table_name TEXT NOT NULL,
		rule_index INTEGER NOT NULL,
		pattern TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		available INTEGER NOT NULL,
		window_ms INTEGER NOT NULL,
		window_start INTEGER NOT NULL,
		counters TEXT,
		last_updated INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (table_name, rule_index)
	);

	CREATE INDEX IF NOT EXISTS idx_rule_states_last_updated ON rule_states(last_updated);
	`

	_, err := s.db.Exec(schema)
	return err
}

const selectColumns = `table_name, rule_index, pattern, capacity, available, window_ms, window_start, counters, last_updated, created_at`

func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO rule_states (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, rule_index) DO UPDATE SET
			pattern = excluded.pattern,
			capacity = excluded.capacity,
			available = excluded.available,
			window_ms = excluded.window_ms,
			window_start = excluded.window_start,
			counters = excluded.counters,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`
		SELECT ` + selectColumns + `
		FROM rule_states
		WHERE table_name = ? AND rule_index = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`
		DELETE FROM rule_states
		WHERE table_name = ? AND rule_index = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT ` + selectColumns + `
		FROM rule_states
		WHERE table_name = ?
		ORDER BY rule_index
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.listAllStmt, err = s.db.Prepare(`
		SELECT ` + selectColumns + `
		FROM rule_states
		ORDER BY table_name, rule_index
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list all statement: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`
		DELETE FROM rule_states
		WHERE last_updated < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

// Save persists the state of one rule.
func (s *SQLiteBackend) Save(ctx context.Context, state *RuleState) error {
	if state == nil {
		return errNilState
	}
	if err := validateKey(state.Table, state.Rule); err != nil {
		return err
	}

	counters, err := json.Marshal(state.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}

	now := time.Now()
	lastUpdated := state.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = now
	}
	createdAt := state.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	var windowStart int64
	if !state.WindowStart.IsZero() {
		windowStart = state.WindowStart.UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.saveStmt.ExecContext(ctx,
		state.Table,
		state.Rule,
		state.Pattern,
		int64(state.Capacity),
		state.Available,
		state.Window.Milliseconds(),
		windowStart,
		string(counters),
		lastUpdated.Unix(),
		createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}

// Load retrieves the state of one rule.
func (s *SQLiteBackend) Load(ctx context.Context, table string, rule int) (*RuleState, error) {
	if err := validateKey(table, rule); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := scanState(s.loadStmt.QueryRowContext(ctx, table, rule))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return state, nil
}

// Delete removes the state of one rule.
func (s *SQLiteBackend) Delete(ctx context.Context, table string, rule int) error {
	if err := validateKey(table, rule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.deleteStmt.ExecContext(ctx, table, rule); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// List returns the rule states of a table, or of every table when table is empty.
func (s *SQLiteBackend) List(ctx context.Context, table string) ([]*RuleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rows *sql.Rows
		err  error
	)
	if table == "" {
		rows, err = s.listAllStmt.QueryContext(ctx)
	} else {
		rows, err = s.listStmt.QueryContext(ctx, table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var states []*RuleState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return states, nil
}

// Cleanup removes entries last updated before olderThan.
func (s *SQLiteBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.cleanupStmt.ExecContext(ctx, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(deleted), nil
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteBackend) Driver() string {
	return s.driver
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.saveStmt, s.loadStmt, s.deleteStmt, s.listStmt, s.listAllStmt, s.cleanupStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*RuleState, error) {
	var (
		state       RuleState
		capacity    int64
		windowMS    int64
		windowStart int64
		counters    sql.NullString
		lastUpdated int64
		createdAt   int64
	)

	err := row.Scan(
		&state.Table,
		&state.Rule,
		&state.Pattern,
		&capacity,
		&state.Available,
		&windowMS,
		&windowStart,
		&counters,
		&lastUpdated,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	state.Capacity = uint(capacity)
	state.Window = time.Duration(windowMS) * time.Millisecond
	if windowStart != 0 {
		state.WindowStart = time.UnixMilli(windowStart)
	}
	state.LastUpdated = time.Unix(lastUpdated, 0)
	state.CreatedAt = time.Unix(createdAt, 0)

	if counters.Valid && counters.String != "" {
		if err := json.Unmarshal([]byte(counters.String), &state.Counters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal counters: %w", err)
		}
	}

	return &state, nil
}
