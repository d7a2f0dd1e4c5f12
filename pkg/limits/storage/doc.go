// Package storage provides persistence backends for rule table snapshots.
//
// # Overview
//
// Rule tables live in memory and reset whenever they are rebuilt. The
// storage package keeps periodic snapshots of each rule (permits left,
// window start, cumulative counters) so operators can inspect admission
// behavior across restarts:
//
//   - Memory: Fast in-memory storage (default, no persistence)
//   - SQLite: File-based persistence using either the pure Go driver
//     ("sqlite", modernc.org/sqlite) or the cgo driver ("sqlite3",
//     github.com/mattn/go-sqlite3)
//
// Snapshots are observational. Tables are never restored from them.
//
// # Usage
//
//	backend := storage.NewMemoryBackend()
//	defer backend.Close()
//
//	for _, status := range table.Snapshot() {
//	    err := backend.Save(ctx, storage.FromStatus(table.Name(), status, time.Now()))
//	}
//
//	states, err := backend.List(ctx, "gateway")
//
// # Thread Safety
//
// All storage backends are thread-safe and support concurrent access
// from multiple goroutines. Locking is handled internally by each backend.
package storage
