package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metapus/internal/domain/idempotency"
)

func TestStore_Put_CreateIfAbsent(t *testing.T) {
	store := NewStore()
	record := idempotency.NewStoredRecord(200, []byte(`ok`), nil, time.Minute, time.Now())

	created, err := store.Put(context.Background(), "k1", record, time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	createdAgain, err := store.Put(context.Background(), "k1", record, time.Minute)
	require.NoError(t, err)
	assert.False(t, createdAgain)
}

func TestStore_Put_AllowsOverwriteAfterExpiry(t *testing.T) {
	store := NewStore()
	past := idempotency.NewStoredRecord(200, nil, nil, -time.Minute, time.Now().Add(-time.Hour))

	_, err := store.Put(context.Background(), "k1", past, time.Minute)
	require.NoError(t, err)

	fresh := idempotency.NewStoredRecord(201, nil, nil, time.Minute, time.Now())
	created, err := store.Put(context.Background(), "k1", fresh, time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestStore_Get_NeverSurfacesExpired(t *testing.T) {
	store := NewStore()
	past := idempotency.NewStoredRecord(200, nil, nil, -time.Minute, time.Now().Add(-time.Hour))
	_, err := store.Put(context.Background(), "k1", past, time.Minute)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Delete(t *testing.T) {
	store := NewStore()
	record := idempotency.NewStoredRecord(200, nil, nil, time.Minute, time.Now())
	_, _ = store.Put(context.Background(), "k1", record, time.Minute)

	deleted, err := store.Delete(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, deleted)

	exists, err := store.Exists(context.Background(), "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_MultiGet_OmitsAbsentKeys(t *testing.T) {
	store := NewStore()
	record := idempotency.NewStoredRecord(200, nil, nil, time.Minute, time.Now())
	_, _ = store.Put(context.Background(), "present", record, time.Minute)

	out, err := store.MultiGet(context.Background(), []string{"present", "missing"})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	_, ok := out["present"]
	assert.True(t, ok)
}

func TestStore_Cleanup_RemovesOnlyExpired(t *testing.T) {
	store := NewStore()
	live := idempotency.NewStoredRecord(200, nil, nil, time.Hour, time.Now())
	expired := idempotency.NewStoredRecord(200, nil, nil, -time.Minute, time.Now().Add(-time.Hour))
	_, _ = store.Put(context.Background(), "live", live, time.Hour)
	_, _ = store.Put(context.Background(), "expired", expired, time.Minute)

	n, err := store.Cleanup(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, _ := store.Exists(context.Background(), "live")
	assert.True(t, exists)
}

func TestLock_AcquireRelease(t *testing.T) {
	lock := NewLock()

	token, ok, err := lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := lock.Release(context.Background(), "k1", token)
	require.NoError(t, err)
	assert.True(t, released)

	_, ok, err = lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_Release_WrongTokenIsNoop(t *testing.T) {
	lock := NewLock()
	_, ok, err := lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := lock.Release(context.Background(), "k1", "not-the-real-token")
	require.NoError(t, err)
	assert.False(t, released)

	locked, _ := lock.IsLocked(context.Background(), "k1")
	assert.True(t, locked)
}

func TestLock_AcquireAll_AllOrNothing(t *testing.T) {
	lock := NewLock()
	_, _, _ = lock.Acquire(context.Background(), "b", time.Second)

	acquired, ok, err := lock.AcquireAll(context.Background(), []string{"a", "b", "c"}, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, acquired)

	lockedA, _ := lock.IsLocked(context.Background(), "a")
	assert.False(t, lockedA)
}

func TestLock_SelfExpires(t *testing.T) {
	lock := NewLock()
	_, ok, err := lock.Acquire(context.Background(), "k1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	_, ok, err = lock.Acquire(context.Background(), "k1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
