package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WriterLock provides cross-process coordination so only one indexing
// pass runs against a given store directory at a time. SQLite's own WAL
// locking already keeps individual statements safe; this guards the
// higher-level invariant that a full reindex is not safe to run twice
// concurrently against the same path.
type WriterLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewWriterLock creates a writer lock scoped to the directory containing
// the store's database file.
func NewWriterLock(dbPath string) *WriterLock {
	lockPath := filepath.Join(filepath.Dir(dbPath), ".indexing.lock")
	return &WriterLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking. Returns false if
// another process already holds it.
func (l *WriterLock) TryLock() (bool, error) {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire writer lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *WriterLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release writer lock: %w", err)
	}
	l.locked = false
	return nil
}
