// Package processlock provides a file-based mutual exclusion lock so that at
// most one processor runs against a shared database, across processes and
// hosts sharing a filesystem.
package processlock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"chatcourier/internal/constants"
	"chatcourier/internal/security"
)

// holderInfo is written into the lock file so operators can see who holds it.
type holderInfo struct {
	PID        int       `json:"pid"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Options control acquisition behavior. Zero values take the defaults.
type Options struct {
	// Blocking makes Acquire poll until the lock frees or Timeout elapses.
	Blocking bool
	// ForceStale takes over a lock whose file is older than MaxAge.
	ForceStale bool
	// MaxAge is the staleness threshold for ForceStale.
	MaxAge time.Duration
	// Timeout bounds a blocking acquire.
	Timeout time.Duration
}

// Lock is a named file lock. It is not safe for concurrent use by multiple
// goroutines; it guards against other processes, not other goroutines.
type Lock struct {
	path   string
	token  string
	held   bool
	logger *logrus.Logger
}

// New creates a lock for the given path. The lock is not acquired.
func New(path string, logger *logrus.Logger) (*Lock, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid lock path: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Lock{
		path:   path,
		token:  uuid.New().String(),
		logger: logger,
	}, nil
}

// Acquire attempts to take the lock. It returns true on success and false
// when the lock is held elsewhere and could not be taken over. Errors are
// reserved for filesystem failures.
func (l *Lock) Acquire(ctx context.Context, opts Options) (bool, error) {
	if l.held {
		return true, nil
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Duration(constants.DefaultLockMaxAgeSec) * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(constants.DefaultLockTimeoutSec) * time.Second
	}

	deadline := time.Now().Add(opts.Timeout)
	for {
		ok, err := l.tryAcquire(opts)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if !opts.Blocking || time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (l *Lock) tryAcquire(opts Options) (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err == nil {
		defer f.Close()
		return true, l.writeHolder(f)
	}
	if !os.IsExist(err) {
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}

	// Lock file exists. Check staleness.
	info, statErr := os.Stat(l.path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			// Raced with a release; retry on the next iteration.
			return false, nil
		}
		return false, fmt.Errorf("failed to stat lock file: %w", statErr)
	}

	age := time.Since(info.ModTime())
	if opts.ForceStale && age > opts.MaxAge {
		l.logger.WithFields(logrus.Fields{
			"lock_path": l.path,
			"age":       age.String(),
		}).Warn("Taking over stale lock")
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		// Recreate exclusively; another process may win the race.
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			if os.IsExist(err) {
				return false, nil
			}
			return false, fmt.Errorf("failed to recreate lock file: %w", err)
		}
		defer f.Close()
		return true, l.writeHolder(f)
	}

	return false, nil
}

func (l *Lock) writeHolder(f *os.File) error {
	holder := holderInfo{
		PID:        os.Getpid(),
		Token:      l.token,
		AcquiredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(holder)
	if err != nil {
		return fmt.Errorf("failed to marshal lock holder: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	l.held = true
	return nil
}

// Release frees the lock. Releasing an unheld lock is a no-op. The file is
// only removed when it still carries this lock's token, so a takeover is
// never clobbered by a late release.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file: %w", err)
	}
	var holder holderInfo
	if err := json.Unmarshal(data, &holder); err == nil && holder.Token != l.token {
		l.logger.WithField("lock_path", l.path).Warn("Lock was taken over; skipping removal")
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether the lock file currently exists, regardless of
// holder.
func (l *Lock) IsLocked() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Held reports whether this instance holds the lock.
func (l *Lock) Held() bool {
	return l.held
}
