// Package snapshot periodically persists rule table state to a storage
// backend on a cron schedule.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mercator-hq/limitgate/pkg/limits"
	"mercator-hq/limitgate/pkg/limits/storage"
)

// Source provides the table to record. Current returns nil when there is
// no table.
type Source interface {
	Current() *limits.Table
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() *limits.Table

// Current calls f.
func (f SourceFunc) Current() *limits.Table {
	return f()
}

// Static returns a Source that always records table.
func Static(table *limits.Table) Source {
	return SourceFunc(func() *limits.Table { return table })
}

// Config configures a Recorder.
type Config struct {
	// Schedule is a standard cron expression or descriptor such as
	// "@every 1m". Empty disables scheduled recording.
	Schedule string

	// Retention drops stored states not updated within this period after
	// each run. Zero keeps everything.
	Retention time.Duration
}

// Recorder writes a snapshot of every rule in a Source to a Backend on a
// schedule.
type Recorder struct {
	source  Source
	backend storage.Backend
	config  Config
	cron    *cron.Cron
	now     func() time.Time
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewRecorder creates a recorder. It does nothing until Start is called.
func NewRecorder(source Source, backend storage.Backend, cfg Config) *Recorder {
	return &Recorder{
		source:  source,
		backend: backend,
		config:  cfg,
		cron:    cron.New(),
		now:     time.Now,
		logger:  slog.Default().With("component", "limits.snapshot"),
	}
}

// Start schedules recording. If Schedule is empty, Start does nothing.
// The recorder stops when ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.Schedule == "" {
		r.logger.Info("snapshot schedule not configured, skipping recorder")
		return nil
	}

	if _, err := cron.ParseStandard(r.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", r.config.Schedule, err)
	}

	_, err := r.cron.AddFunc(r.config.Schedule, func() {
		if _, err := r.RecordOnce(ctx); err != nil {
			r.logger.Error("scheduled snapshot failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule snapshots: %w", err)
	}

	r.cron.Start()
	r.running = true

	r.logger.Info("snapshot recorder started",
		"schedule", r.config.Schedule,
		"retention", r.config.Retention.String(),
	)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// RecordOnce saves the current state of every rule, removes stored rules
// the table no longer has and applies retention. Returns the number of
// rules saved.
func (r *Recorder) RecordOnce(ctx context.Context) (int, error) {
	current := r.source.Current()
	if current == nil {
		return 0, nil
	}

	runID := uuid.NewString()
	at := r.now()
	table := current.Name()
	statuses := current.Snapshot()

	saved := 0
	for _, status := range statuses {
		if err := r.backend.Save(ctx, storage.FromStatus(table, status, at)); err != nil {
			return saved, fmt.Errorf("failed to save rule %d of table %s: %w", status.Index, table, err)
		}
		saved++
	}

	if err := r.pruneRemoved(ctx, table, len(statuses)); err != nil {
		return saved, err
	}

	if r.config.Retention > 0 {
		deleted, err := r.backend.Cleanup(ctx, at.Add(-r.config.Retention))
		if err != nil {
			return saved, fmt.Errorf("failed to apply retention: %w", err)
		}
		if deleted > 0 {
			r.logger.Info("expired rule snapshots removed", "run_id", runID, "deleted_count", deleted)
		}
	}

	r.logger.Debug("rule snapshot recorded", "run_id", runID, "table", table, "rules", saved)
	return saved, nil
}

// pruneRemoved deletes stored states of table whose rule index is past the
// end of the table, left over from a configuration with more rules.
func (r *Recorder) pruneRemoved(ctx context.Context, table string, rules int) error {
	states, err := r.backend.List(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to list snapshots of table %s: %w", table, err)
	}
	for _, state := range states {
		if state.Rule < rules {
			continue
		}
		if err := r.backend.Delete(ctx, table, state.Rule); err != nil {
			return fmt.Errorf("failed to delete rule %d of table %s: %w", state.Rule, table, err)
		}
		r.logger.Debug("removed snapshot of deleted rule", "table", table, "rule", state.Rule)
	}
	return nil
}

// Stop stops the recorder and waits for a running snapshot to complete.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil && r.running {
		ctx := r.cron.Stop()
		<-ctx.Done()
		r.running = false
		r.logger.Info("snapshot recorder stopped")
	}
}

// IsRunning returns true if the recorder is scheduled.
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.running
}

// NextRun returns the next scheduled snapshot time, or nil if not scheduled.
func (r *Recorder) NextRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
