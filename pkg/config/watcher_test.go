package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "limits:\n  name: v1\n")

	w, err := NewWatcher(path, 20*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Stop()

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx, func(c *Config) { reloaded <- c }) }()

	// Let the watcher register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("limits:\n  name: v2\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Limits.Name != "v2" {
			t.Errorf("expected reloaded name v2, got %q", cfg.Limits.Name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_InvalidConfigSkipped(t *testing.T) {
	path := writeConfig(t, "limits:\n  name: v1\n")

	w, err := NewWatcher(path, 20*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Stop()

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx, func(*Config) { calls.Add(1) }) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("limits:\n  expiry_policy: lenient\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("invalid config should not be delivered, got %d reloads", n)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, "limits:\n  name: v1\n")

	w, err := NewWatcher(path, 20*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Stop()

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx, func(*Config) { calls.Add(1) }) }()
	time.Sleep(100 * time.Millisecond)

	other := filepath.Join(filepath.Dir(path), "other.yaml")
	if err := os.WriteFile(other, []byte("x: 1\n"), 0644); err != nil {
		t.Fatalf("failed to write sibling file: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("sibling file change triggered %d reloads", n)
	}
}

func TestWatcher_DoubleStart(t *testing.T) {
	path := writeConfig(t, "")

	w, err := NewWatcher(path, 0, quietLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx, func(*Config) {}) }()
	time.Sleep(100 * time.Millisecond)

	if err := w.Watch(ctx, func(*Config) {}); err == nil {
		t.Error("expected error when starting a running watcher")
	}
}

func TestWatcher_StopWithoutWatch(t *testing.T) {
	w, err := NewWatcher(writeConfig(t, ""), 0, quietLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop returned error: %v", err)
	}
}

func TestDebouncer_Trigger(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { calls.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 call after burst, got %d", n)
	}
}

func TestDebouncer_Stop(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(100 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("expected no calls after Stop, got %d", n)
	}
}
