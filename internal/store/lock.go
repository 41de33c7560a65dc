package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/louloulin/agentmem/internal/errors"
)

// LockFileName is created inside the data directory while a process writes.
const LockFileName = ".agentmem.lock"

// DataDirLock is a cross-process write lock on a data directory.
type DataDirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataDirLock prepares a lock for dir. Nothing is acquired yet.
func NewDataDirLock(dir string) *DataDirLock {
	path := filepath.Join(dir, LockFileName)
	return &DataDirLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. When another process holds
// it, TryLock returns a retryable ERR_202 error.
func (l *DataDirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return errors.New(errors.ErrCodeDataDir, "cannot create data directory", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return errors.New(errors.ErrCodeStoreLocked, "data directory is locked by another process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Stop the other agentmem process or wait for it to finish")
	}
	l.locked = true
	return nil
}

// Lock retries TryLock with backoff until it succeeds, ctx ends, or the
// retry budget runs out.
func (l *DataDirLock) Lock(ctx context.Context, cfg errors.RetryConfig) error {
	return errors.Retry(ctx, cfg, l.TryLock)
}

// Unlock releases the lock. Calling it on an unlocked lock is a no-op.
func (l *DataDirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataDirLock) Path() string {
	return l.path
}
