// Package lock provides the cross-process pass lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
)

// LockFile is the lock file name inside the state directory.
const LockFile = "pass.lock"

// retryDelay is how often a waiting Acquire polls the lock.
const retryDelay = 50 * time.Millisecond

// Ensure FileLock implements the interface.
var _ driven.PassLock = (*FileLock)(nil)

// FileLock is a driven.PassLock backed by an advisory file lock, so two
// bisync processes sharing a state directory never run passes concurrently.
type FileLock struct {
	fl *flock.Flock
}

// New creates a lock on dir/pass.lock, creating dir if needed.
func New(dir string) (*FileLock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return &FileLock{fl: flock.New(filepath.Join(dir, LockFile))}, nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.fl.Path()
}

// Acquire takes the lock. With wait it polls until ctx ends; otherwise it
// fails at once when another process holds the lock.
func (l *FileLock) Acquire(ctx context.Context, wait bool) error {
	if !wait {
		locked, err := l.fl.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring pass lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("%w: %s is held", domain.ErrPassInProgress, l.fl.Path())
		}
		return nil
	}

	locked, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: gave up waiting for %s", domain.ErrPassInProgress, l.fl.Path())
		}
		return fmt.Errorf("acquiring pass lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s is held", domain.ErrPassInProgress, l.fl.Path())
	}
	return nil
}

// Release frees the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing pass lock: %w", err)
	}
	return nil
}
