// Package lock implements the process-wide advisory file lock required by
// spec.md §5: at most one orchestrator instance may mutate the index, the
// service files, and the feature row at a time.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

const (
	errAcquire = "failed to acquire lock %q"
	errRelease = "failed to release lock %q"

	defaultRetryDelay = 250 * time.Millisecond
)

// File is a thin wrapper over gofrs/flock. Mutating commands (install,
// uninstall) hold it exclusively from INIT to DONE; read-only commands
// (list, show) also take it exclusively for the short duration of a single
// read, since flock has no non-blocking shared-lock primitive that fits the
// single-writer model described in spec.md §5.
type File struct {
	flock *flock.Flock
}

// New returns a File lock at path. Lock creates path's parent directory if
// missing, so a brand new installation root needs no separate bootstrap.
func New(path string) *File {
	return &File{flock: flock.New(path)}
}

// Lock blocks until the exclusive lock is acquired or ctx is done.
func (l *File) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return errors.Wrapf(err, errAcquire, l.flock.Path())
	}
	if _, err := l.flock.TryLockContext(ctx, defaultRetryDelay); err != nil {
		return errors.Wrapf(err, errAcquire, l.flock.Path())
	}
	return nil
}

// Unlock releases the lock. It is safe to call even if Lock was never
// called (flock.Unlock is a no-op in that case).
func (l *File) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return errors.Wrapf(err, errRelease, l.flock.Path())
	}
	return nil
}
