package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/chart-publisher/internal/logger"
)

const (
	// LockFilename is the lock file inside the workspace.
	LockFilename = ".lock"

	// DefaultStaleAfter is the age after which a lock is considered abandoned.
	DefaultStaleAfter = 120 * time.Second

	// DefaultReleaseWait bounds how long Release waits for the guard.
	DefaultReleaseWait = 30 * time.Second

	// guardSuffix names the flock file next to the workspace directory.
	guardSuffix = ".flock"

	// guardRetryDelay is the polling interval while Release waits for the guard.
	guardRetryDelay = 50 * time.Millisecond

	dirPermissions  os.FileMode = 0o755
	filePermissions os.FileMode = 0o644
)

var (
	// ErrLocked is returned when another live owner holds the workspace.
	ErrLocked = errors.New("workspace is locked by another process")
	// ErrNotOwner is returned when the lock file belongs to another process.
	ErrNotOwner = errors.New("workspace lock is owned by another process")
	// errMalformedLock is returned when the lock file content cannot be parsed.
	errMalformedLock = errors.New("malformed lock file")
)

// Lock is the handle of an acquired workspace.
type Lock struct {
	dir         string
	pid         int
	acquiredAt  time.Time
	releaseWait time.Duration
}

// Option configures acquisition.
type Option func(*options)

type options struct {
	staleAfter  time.Duration
	releaseWait time.Duration
	pid         int
	now         func() time.Time
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.staleAfter = d
		}
	}
}

// WithReleaseWait overrides DefaultReleaseWait.
func WithReleaseWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.releaseWait = d
		}
	}
}

// WithOwner overrides the recorded owner id, which defaults to os.Getpid.
func WithOwner(pid int) Option {
	return func(o *options) {
		o.pid = pid
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Acquire takes the workspace or fails with ErrLocked without touching it.
// On success the workspace is recreated empty and holds only the lock file.
// There is no waiting: a single attempt is made.
func Acquire(ctx context.Context, dir string, opts ...Option) (*Lock, error) {
	o := &options{
		staleAfter:  DefaultStaleAfter,
		releaseWait: DefaultReleaseWait,
		pid:         os.Getpid(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	dir = filepath.Clean(dir)

	guard, err := lockGuard(dir)
	if err != nil {
		return nil, err
	}

	defer unlockGuard(ctx, guard)

	lockPath := filepath.Join(dir, LockFilename)

	info, err := os.Stat(lockPath)

	switch {
	case err == nil:
		age := o.now().Sub(info.ModTime())
		owner, _, _ := readLockFile(lockPath)

		if age < o.staleAfter {
			if processRunning(owner) {
				logger.WarnKV(ctx, "The lock file exists", "path", lockPath, "owner", owner, "age", age)
			} else {
				logger.WarnKV(ctx, "The lock owner is not running, the lock will go stale",
					"path", lockPath, "owner", owner, "stale_in", o.staleAfter-age)
			}

			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}

		logger.WarnKV(ctx, "Reclaiming stale workspace lock",
			"path", lockPath, "owner", owner, "owner_running", processRunning(owner), "age", age)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("stat lock file: %w", err)
	}

	if err = os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clean workspace: %w", err)
	}

	if err = os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	l := &Lock{
		dir:         dir,
		pid:         o.pid,
		acquiredAt:  o.now(),
		releaseWait: o.releaseWait,
	}

	content := fmt.Sprintf("%d\n%s\n", l.pid, l.acquiredAt.UTC().Format(time.RFC3339))
	if err = os.WriteFile(lockPath, []byte(content), filePermissions); err != nil {
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	logger.InfoKV(ctx, "Workspace locked", "dir", dir, "owner", l.pid)

	return l, nil
}

// Dir is the locked workspace directory.
func (l *Lock) Dir() string {
	return l.dir
}

// Owner is the pid recorded in the lock file.
func (l *Lock) Owner() int {
	return l.pid
}

// AcquiredAt is when the lock was taken.
func (l *Lock) AcquiredAt() time.Time {
	return l.acquiredAt
}

// Release removes the lock file if it still records this handle's owner.
// If another process reclaimed the workspace meanwhile, ErrNotOwner is
// returned and the file is left alone. Release waits for a concurrent
// Acquire to leave the guard, even when ctx is already cancelled.
func (l *Lock) Release(ctx context.Context) error {
	guard, err := waitGuard(ctx, l.dir, l.releaseWait)
	if err != nil {
		return err
	}

	defer unlockGuard(ctx, guard)

	lockPath := filepath.Join(l.dir, LockFilename)

	owner, _, err := readLockFile(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: lock file is gone", ErrNotOwner)
		}

		return err
	}

	if owner != l.pid {
		return fmt.Errorf("%w: recorded %d, ours %d", ErrNotOwner, owner, l.pid)
	}

	if err = os.Remove(lockPath); err != nil {
		return fmt.Errorf("remove lock file: %w", err)
	}

	logger.InfoKV(ctx, "Workspace unlocked", "dir", l.dir, "owner", l.pid)

	return nil
}

// lockGuard takes the advisory flock that serializes lock file inspection.
func lockGuard(dir string) (*flock.Flock, error) {
	guardPath := dir + guardSuffix
	if err := os.MkdirAll(filepath.Dir(guardPath), dirPermissions); err != nil {
		return nil, fmt.Errorf("create lock guard directory: %w", err)
	}

	guard := flock.New(guardPath)

	locked, err := guard.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock guard %s: %w", guardPath, err)
	}

	if !locked {
		return nil, fmt.Errorf("%w: %s is held", ErrLocked, guardPath)
	}

	return guard, nil
}

// waitGuard takes the guard, polling until wait expires.
func waitGuard(ctx context.Context, dir string, wait time.Duration) (*flock.Flock, error) {
	guardPath := dir + guardSuffix
	if err := os.MkdirAll(filepath.Dir(guardPath), dirPermissions); err != nil {
		return nil, fmt.Errorf("create lock guard directory: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wait)
	defer cancel()

	guard := flock.New(guardPath)

	locked, err := guard.TryLockContext(waitCtx, guardRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire lock guard %s: %w", guardPath, err)
	}

	if !locked {
		return nil, fmt.Errorf("%w: %s is held", ErrLocked, guardPath)
	}

	return guard, nil
}

func unlockGuard(ctx context.Context, guard *flock.Flock) {
	if err := guard.Unlock(); err != nil {
		logger.WarnKV(ctx, "Failed to release lock guard", "path", guard.Path(), "error", err)
	}
}

// readLockFile returns the owner pid and, when present, the recorded acquisition time.
func readLockFile(path string) (int, time.Time, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, time.Time{}, err
	}

	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)

	if !scanner.Scan() {
		return 0, time.Time{}, errMalformedLock
	}

	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %w", errMalformedLock, err)
	}

	var acquiredAt time.Time
	if scanner.Scan() {
		acquiredAt, _ = time.Parse(time.RFC3339, strings.TrimSpace(scanner.Text()))
	}

	return pid, acquiredAt, nil
}

// processRunning reports whether the pid is in the process table.
func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := ps.FindProcess(pid)

	return err == nil && process != nil
}
