package cookies

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt.lock")
	ctx := context.Background()

	a := NewFileLock(path, time.Second, time.Hour)
	require.NoError(t, a.Acquire(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	b := NewFileLock(path, 150*time.Millisecond, time.Hour)
	b.Poll = 20 * time.Millisecond
	assert.ErrorIs(t, b.Acquire(ctx), ErrLockTimeout)

	require.NoError(t, a.Release())
	assert.NoFileExists(t, path)
	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, b.Release())
	// releasing twice is harmless
	require.NoError(t, b.Release())
}

func TestFileLockWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	ctx := context.Background()

	a := NewFileLock(path, time.Second, time.Hour)
	require.NoError(t, a.Acquire(ctx))
	go func() {
		time.Sleep(100 * time.Millisecond)
		a.Release()
	}()

	b := NewFileLock(path, 2*time.Second, time.Hour)
	b.Poll = 20 * time.Millisecond
	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, b.Release())
}

func TestFileLockBreaksDeadOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, os.WriteFile(path, []byte("2147483646"), 0644))

	l := NewFileLock(path, 100*time.Millisecond, time.Hour)
	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Release())
}

func TestFileLockBreaksOldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	// owned by a live process, but ancient
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	l := NewFileLock(path, 100*time.Millisecond, 10*time.Minute)
	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Release())
}

func TestFileLockContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	a := NewFileLock(path, time.Second, time.Hour)
	require.NoError(t, a.Acquire(context.Background()))
	defer a.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewFileLock(path, time.Minute, time.Hour)
	assert.ErrorIs(t, b.Acquire(ctx), context.Canceled)
}
