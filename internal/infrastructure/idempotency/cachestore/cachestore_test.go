package cachestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metapus/internal/domain/idempotency"
)

// fakeService is a minimal in-process Service fake, standing in for an LRU
// or memcache-style client without an atomic create-if-absent primitive.
type fakeService struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newFakeService() *fakeService {
	return &fakeService{values: make(map[string][]byte)}
}

func (f *fakeService) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeService) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeService) Keys(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	return keys, nil
}

func TestStore_Put_CreateIfAbsent(t *testing.T) {
	store := NewStore(newFakeService())
	record := idempotency.NewStoredRecord(200, []byte(`ok`), nil, time.Minute, time.Now())

	created, err := store.Put(context.Background(), "k1", record, time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	createdAgain, err := store.Put(context.Background(), "k1", record, time.Minute)
	require.NoError(t, err)
	assert.False(t, createdAgain)
}

func TestStore_Get_RoundTrips(t *testing.T) {
	store := NewStore(newFakeService())
	record := idempotency.NewStoredRecord(201, []byte(`{"id":1}`), nil, time.Minute, time.Now())
	_, err := store.Put(context.Background(), "k1", record, time.Minute)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.Status)
	assert.Equal(t, []byte(`{"id":1}`), got.Body)
}

func TestStore_Get_LazilyExpiresAndDeletes(t *testing.T) {
	svc := newFakeService()
	store := NewStore(svc)
	past := idempotency.NewStoredRecord(200, nil, nil, -time.Minute, time.Now().Add(-time.Hour))
	_, err := store.Put(context.Background(), "k1", past, time.Minute)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, present, _ := svc.Get(context.Background(), "k1")
	assert.False(t, present)
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(newFakeService())
	record := idempotency.NewStoredRecord(200, nil, nil, time.Minute, time.Now())
	_, _ = store.Put(context.Background(), "k1", record, time.Minute)

	deleted, err := store.Delete(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deletedAgain, err := store.Delete(context.Background(), "k1")
	require.NoError(t, err)
	assert.False(t, deletedAgain)
}

func TestStore_Cleanup_ScansAndRemovesExpired(t *testing.T) {
	store := NewStore(newFakeService())
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

func TestStore_Get_RejectsUnsupportedEnvelopeVersion(t *testing.T) {
	svc := newFakeService()
	store := NewStore(svc)
	_ = svc.Set(context.Background(), "k1", []byte(`{"version":99,"record":{}}`), time.Minute)

	got, err := store.Get(context.Background(), "k1")
	assert.Error(t, err)
	assert.Nil(t, got)
}
