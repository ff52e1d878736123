package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/chart-publisher/internal/logger"
)

const (
	firstOwner  = 1001
	secondOwner = 1002

	// deadOwner is above the Linux pid limit, so it is never running.
	deadOwner = 1 << 23
)

// TestAcquire_CleansWorkspace verifies a fresh acquisition starts from an empty directory.
func TestAcquire_CleansWorkspace(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leftover.tgz"), []byte("old"), 0o644))

	lock, err := Acquire(context.Background(), dir, WithOwner(firstOwner))
	require.NoError(t, err)
	require.Equal(t, dir, lock.Dir())
	require.Equal(t, firstOwner, lock.Owner())
	require.False(t, lock.AcquiredAt().IsZero())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, LockFilename, entries[0].Name())

	contents, err := os.ReadFile(filepath.Join(dir, LockFilename))
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(firstOwner), strings.Split(string(contents), "\n")[0])
}

// TestAcquire_FreshLockBlocks checks a second caller fails and leaves the workspace untouched.
func TestAcquire_FreshLockBlocks(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")

	_, err := Acquire(context.Background(), dir, WithOwner(firstOwner))
	require.NoError(t, err)

	artifact := filepath.Join(dir, "app-1.0.0.tgz")
	require.NoError(t, os.WriteFile(artifact, []byte("in flight"), 0o644))

	lock, err := Acquire(context.Background(), dir, WithOwner(secondOwner))
	require.ErrorIs(t, err, ErrLocked)
	require.Nil(t, lock)

	_, err = os.Stat(artifact)
	require.NoError(t, err)
}

// TestAcquire_StaleLockIsReclaimed checks that a lock older than the threshold is taken over.
func TestAcquire_StaleLockIsReclaimed(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")

	_, err := Acquire(context.Background(), dir, WithOwner(firstOwner))
	require.NoError(t, err)

	artifact := filepath.Join(dir, "app-1.0.0.tgz")
	require.NoError(t, os.WriteFile(artifact, []byte("abandoned"), 0o644))

	old := time.Now().Add(-DefaultStaleAfter - time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(dir, LockFilename), old, old))

	lock, err := Acquire(context.Background(), dir, WithOwner(secondOwner))
	require.NoError(t, err)
	require.Equal(t, secondOwner, lock.Owner())

	_, err = os.Stat(artifact)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestAcquire_ClockAndThreshold checks staleness against an injected clock and custom threshold.
func TestAcquire_ClockAndThreshold(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")

	_, err := Acquire(context.Background(), dir, WithOwner(firstOwner))
	require.NoError(t, err)

	future := func() time.Time { return time.Now().Add(30 * time.Second) }

	_, err = Acquire(context.Background(), dir, WithOwner(secondOwner), WithClock(future))
	require.ErrorIs(t, err, ErrLocked)

	lock, err := Acquire(context.Background(), dir,
		WithOwner(secondOwner), WithClock(future), WithStaleAfter(10*time.Second))
	require.NoError(t, err)
	require.Equal(t, secondOwner, lock.Owner())
}

// TestRelease_OwnerRemovesLock allows the next acquisition right away.
func TestRelease_OwnerRemovesLock(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")

	lock, err := Acquire(context.Background(), dir, WithOwner(firstOwner))
	require.NoError(t, err)
	require.NoError(t, lock.Release(context.Background()))

	_, err = os.Stat(filepath.Join(dir, LockFilename))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Acquire(context.Background(), dir, WithOwner(secondOwner))
	require.NoError(t, err)
}

// TestRelease_ReclaimedLockIsKept refuses to delete a lock taken over by another owner.
func TestRelease_ReclaimedLockIsKept(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")

	first, err := Acquire(context.Background(), dir, WithOwner(firstOwner))
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, LockFilename), old, old))

	_, err = Acquire(context.Background(), dir, WithOwner(secondOwner))
	require.NoError(t, err)

	require.ErrorIs(t, first.Release(context.Background()), ErrNotOwner)

	owner, _, err := readLockFile(filepath.Join(dir, LockFilename))
	require.NoError(t, err)
	require.Equal(t, secondOwner, owner)
}

// TestRelease_MissingLockFile reports a mismatch instead of failing silently.
func TestRelease_MissingLockFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")

	lock, err := Acquire(context.Background(), dir, WithOwner(firstOwner))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	require.ErrorIs(t, lock.Release(context.Background()), ErrNotOwner)
}

// TestReadLockFile parses the recorded owner and time.
func TestReadLockFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), LockFilename)
	require.NoError(t, os.WriteFile(path, []byte("42\n2026-01-02T03:04:05Z\n"), 0o644))

	pid, at, err := readLockFile(path)
	require.NoError(t, err)
	require.Equal(t, 42, pid)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), at)

	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	_, _, err = readLockFile(path)
	require.ErrorIs(t, err, errMalformedLock)
}

func TestProcessRunning(t *testing.T) {
	t.Parallel()

	require.True(t, processRunning(os.Getpid()))
	require.False(t, processRunning(0))
}

// TestRelease_WaitsForGuard removes the lock once a concurrent holder leaves the guard.
func TestRelease_WaitsForGuard(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")

	lock, err := Acquire(context.Background(), dir, WithOwner(firstOwner))
	require.NoError(t, err)

	holder := flock.New(dir + guardSuffix)

	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = holder.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, lock.Release(ctx))

	_, err = os.Stat(filepath.Join(dir, LockFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRelease_GuardWaitExpires gives up once the release wait is spent.
func TestRelease_GuardWaitExpires(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")

	lock, err := Acquire(context.Background(), dir, WithOwner(firstOwner), WithReleaseWait(150*time.Millisecond))
	require.NoError(t, err)

	holder := flock.New(dir + guardSuffix)

	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	t.Cleanup(func() { _ = holder.Unlock() })

	require.Error(t, lock.Release(context.Background()))

	_, err = os.Stat(filepath.Join(dir, LockFilename))
	require.NoError(t, err)
}

// TestAcquire_DeadOwnerWarning names a lock whose owner has exited.
func TestAcquire_DeadOwnerWarning(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "build")

	_, err := Acquire(context.Background(), dir, WithOwner(deadOwner))
	require.NoError(t, err)

	core, observed := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	_, err = Acquire(ctx, dir, WithOwner(secondOwner))
	require.ErrorIs(t, err, ErrLocked)

	warnings := observed.FilterMessage("The lock owner is not running, the lock will go stale").All()
	require.Len(t, warnings, 1)
	require.EqualValues(t, deadOwner, warnings[0].ContextMap()["owner"])
}
