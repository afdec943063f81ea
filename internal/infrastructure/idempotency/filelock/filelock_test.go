package filelock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_AcquireRelease(t *testing.T) {
	lock, err := NewLock(t.TempDir())
	require.NoError(t, err)

	token, ok, err := lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := lock.Release(context.Background(), "k1", token)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestLock_SecondAcquireWaitsThenTimesOut(t *testing.T) {
	lock, err := NewLock(t.TempDir(), WithSpinInterval(time.Millisecond), WithMaxWait(20*time.Millisecond))
	require.NoError(t, err)

	_, ok, err := lock.Acquire(context.Background(), "k1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLock_Release_WrongTokenIsNoop(t *testing.T) {
	lock, err := NewLock(t.TempDir())
	require.NoError(t, err)

	_, ok, err := lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := lock.Release(context.Background(), "k1", "bogus-token")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestLock_IsLocked(t *testing.T) {
	lock, err := NewLock(t.TempDir())
	require.NoError(t, err)

	locked, err := lock.IsLocked(context.Background(), "k1")
	require.NoError(t, err)
	assert.False(t, locked)

	_, _, _ = lock.Acquire(context.Background(), "k1", time.Second)

	locked, err = lock.IsLocked(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestLock_DistinctKeysDoNotCollide(t *testing.T) {
	lock, err := NewLock(t.TempDir())
	require.NoError(t, err)

	_, ok1, err := lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	_, ok2, err := lock.Acquire(context.Background(), "k2", time.Second)
	require.NoError(t, err)

	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestRenameLock_AcquireRelease(t *testing.T) {
	lock, err := NewRenameLock(t.TempDir())
	require.NoError(t, err)

	token, ok, err := lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := lock.Release(context.Background(), "k1", token)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestRenameLock_ReapsExpiredAndReacquires(t *testing.T) {
	lock, err := NewRenameLock(t.TempDir())
	require.NoError(t, err)

	_, ok, err := lock.Acquire(context.Background(), "k1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	_, ok, err = lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_Close_ReleasesAllHolds(t *testing.T) {
	lock, err := NewLock(t.TempDir())
	require.NoError(t, err)

	_, _, _ = lock.Acquire(context.Background(), "k1", time.Minute)
	_, _, _ = lock.Acquire(context.Background(), "k2", time.Minute)

	require.NoError(t, lock.Close())

	locked, _ := lock.IsLocked(context.Background(), "k1")
	assert.False(t, locked)
}
