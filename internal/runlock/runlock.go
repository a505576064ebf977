// Package runlock keeps two CLI sessions from driving the same story at once.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"storybook/internal/services"
	"storybook/internal/textutil"
)

// ErrHeld is returned when another process holds the story's lock.
var ErrHeld = fmt.Errorf("%w: story is already being processed", services.ErrConflict)

// Lock is an exclusive advisory lock on one story.
type Lock struct {
	path string
	fl   *flock.Flock
}

// PathFor returns the lock file used for storyPath under lockDir.
func PathFor(lockDir, storyPath string) string {
	return filepath.Join(lockDir, textutil.StemToken(storyPath)+".lock")
}

// Acquire takes the lock for storyPath without blocking.
func Acquire(lockDir, storyPath string) (*Lock, error) {
	if lockDir == "" {
		return nil, errors.New("lock directory is not configured")
	}
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := PathFor(lockDir, storyPath)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrHeld, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
