package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStorage is a minimal in-process Storage fake for interceptor tests —
// deliberately not the real memstore package, to keep this package's tests
// free of an infrastructure import.
type memStorage struct {
	mu      sync.Mutex
	records map[string]StoredRecord
	getErr  error
}

func newMemStorage() *memStorage {
	return &memStorage{records: make(map[string]StoredRecord)}
}

func (s *memStorage) Put(ctx context.Context, key string, record StoredRecord, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok && !existing.Expired(time.Now()) {
		return false, nil
	}
	s.records[key] = record
	return true, nil
}

func (s *memStorage) Get(ctx context.Context, key string) (*StoredRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok || record.Expired(time.Now()) {
		return nil, nil
	}
	return &record, nil
}

func (s *memStorage) Exists(ctx context.Context, key string) (bool, error) {
	record, err := s.Get(ctx, key)
	return record != nil, err
}

func (s *memStorage) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	delete(s.records, key)
	return ok, nil
}

func (s *memStorage) MultiGet(ctx context.Context, keys []string) (map[string]StoredRecord, error) {
	out := make(map[string]StoredRecord)
	for _, k := range keys {
		if record, err := s.Get(ctx, k); err == nil && record != nil {
			out[k] = *record
		}
	}
	return out, nil
}

func (s *memStorage) Cleanup(ctx context.Context, batchMax int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	now := time.Now()
	for k, r := range s.records {
		if removed >= batchMax {
			break
		}
		if r.Expired(now) {
			delete(s.records, k)
			removed++
		}
	}
	return removed, nil
}

// memLock is a minimal in-process Lock fake.
type memLock struct {
	mu      sync.Mutex
	holders map[string]LockToken
	denyAll bool
}

func newMemLock() *memLock {
	return &memLock{holders: make(map[string]LockToken)}
}

func (l *memLock) Acquire(ctx context.Context, key string, ttl time.Duration) (LockToken, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denyAll {
		return "", false, nil
	}
	if _, held := l.holders[key]; held {
		return "", false, nil
	}
	token := NewLockToken(time.Now())
	l.holders[key] = token
	return token, true, nil
}

func (l *memLock) Release(ctx context.Context, key string, token LockToken) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[key] != token {
		return false, nil
	}
	delete(l.holders, key)
	return true, nil
}

func (l *memLock) IsLocked(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.holders[key]
	return held, nil
}

func (l *memLock) AcquireAll(ctx context.Context, keys []string, ttl time.Duration) (map[string]LockToken, bool, error) {
	acquired := make(map[string]LockToken)
	for _, k := range keys {
		token, ok, err := l.Acquire(ctx, k, ttl)
		if err != nil || !ok {
			for ak, at := range acquired {
				_, _ = l.Release(ctx, ak, at)
			}
			return nil, false, err
		}
		acquired[k] = token
	}
	return acquired, true, nil
}

func (l *memLock) ReleaseAll(ctx context.Context, tokens map[string]LockToken) error {
	for k, t := range tokens {
		_, _ = l.Release(ctx, k, t)
	}
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TTL = time.Minute
	cfg.LockTTL = time.Second
	cfg.MaxLockAttempts = 2
	cfg.LockRetryDelay = time.Millisecond
	return cfg
}

func TestInterceptor_Before_MissingKeyStrictRejects(t *testing.T) {
	ic := NewInterceptor(testConfig(), newMemStorage(), newMemLock(), nil, nil)

	record, section, err := ic.Before(context.Background(), RequestInfo{Method: "POST"})

	assert.Nil(t, record)
	assert.Nil(t, section)
	require.Error(t, err)
	appErr, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidIdempotencyKey, appErr.Code)
}

func TestInterceptor_Before_MissingKeyOptionalPassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = Optional
	ic := NewInterceptor(cfg, newMemStorage(), newMemLock(), nil, nil)

	record, section, err := ic.Before(context.Background(), RequestInfo{Method: "GET"})

	assert.NoError(t, err)
	assert.Nil(t, record)
	assert.Nil(t, section)
}

func TestInterceptor_Before_FreshKeyGrantsCriticalSection(t *testing.T) {
	ic := NewInterceptor(testConfig(), newMemStorage(), newMemLock(), nil, nil)

	record, section, err := ic.Before(context.Background(), RequestInfo{HeaderValue: "req-1"})

	require.NoError(t, err)
	assert.Nil(t, record)
	require.NotNil(t, section)
	assert.Equal(t, "req-1", section.Key)
	assert.NotEmpty(t, section.Token)
}

func TestInterceptor_BeforeAfter_ReplaysStoredResponse(t *testing.T) {
	storage := newMemStorage()
	lock := newMemLock()
	ic := NewInterceptor(testConfig(), storage, lock, nil, nil)

	_, section, err := ic.Before(context.Background(), RequestInfo{HeaderValue: "req-1"})
	require.NoError(t, err)
	require.NotNil(t, section)

	err = ic.After(context.Background(), section, CapturedResponse{Status: 201, Body: []byte(`{"id":1}`)})
	require.NoError(t, err)

	record, replaySection, err := ic.Before(context.Background(), RequestInfo{HeaderValue: "req-1"})
	require.NoError(t, err)
	assert.Nil(t, replaySection)
	require.NotNil(t, record)
	assert.Equal(t, 201, record.Status)
	assert.Equal(t, []byte(`{"id":1}`), record.Body)
}

func TestInterceptor_After_DoesNotStoreErrorResponses(t *testing.T) {
	storage := newMemStorage()
	lock := newMemLock()
	ic := NewInterceptor(testConfig(), storage, lock, nil, nil)

	_, section, err := ic.Before(context.Background(), RequestInfo{HeaderValue: "req-err"})
	require.NoError(t, err)

	err = ic.After(context.Background(), section, CapturedResponse{Status: 500, Body: []byte(`oops`)})
	require.NoError(t, err)

	got, err := storage.Get(context.Background(), "req-err")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInterceptor_After_ReleasesLockEvenWithoutStore(t *testing.T) {
	storage := newMemStorage()
	lock := newMemLock()
	ic := NewInterceptor(testConfig(), storage, lock, nil, nil)

	_, section, err := ic.Before(context.Background(), RequestInfo{HeaderValue: "req-1"})
	require.NoError(t, err)

	locked, _ := lock.IsLocked(context.Background(), "req-1")
	require.True(t, locked)

	err = ic.After(context.Background(), section, CapturedResponse{Status: 500})
	require.NoError(t, err)

	locked, _ = lock.IsLocked(context.Background(), "req-1")
	assert.False(t, locked)
}

func TestInterceptor_Before_ConcurrentRequestRejectedWhenLockHeld(t *testing.T) {
	lock := newMemLock()
	lock.denyAll = true
	ic := NewInterceptor(testConfig(), newMemStorage(), lock, nil, nil)

	record, section, err := ic.Before(context.Background(), RequestInfo{HeaderValue: "req-1"})

	assert.Nil(t, record)
	assert.Nil(t, section)
	require.Error(t, err)
	appErr, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeConcurrentRequest, appErr.Code)
}

func TestInterceptor_Before_HotCacheHitSkipsLock(t *testing.T) {
	storage := newMemStorage()
	lock := newMemLock()
	hotCache := NewHotCache(time.Minute)
	ic := NewInterceptor(testConfig(), storage, lock, hotCache, nil)

	now := time.Now()
	_, _ = storage.Put(context.Background(), "req-1", NewStoredRecord(200, []byte(`ok`), nil, time.Minute, now), time.Minute)
	hotCache.Warm("req-1", now)

	lock.denyAll = true // prove the lock path is never reached

	record, section, err := ic.Before(context.Background(), RequestInfo{HeaderValue: "req-1"})

	require.NoError(t, err)
	assert.Nil(t, section)
	require.NotNil(t, record)
	assert.Equal(t, 200, record.Status)
}

func TestInterceptor_ExtractKey_PrefersHeaderOverBody(t *testing.T) {
	key := ExtractKey(RequestInfo{Method: "POST", HeaderValue: "from-header", BodyValue: "from-body"})
	assert.Equal(t, "from-header", key)
}

func TestInterceptor_ExtractKey_FallsBackToBodyOnPost(t *testing.T) {
	key := ExtractKey(RequestInfo{Method: "POST", BodyValue: "from-body"})
	assert.Equal(t, "from-body", key)
}

func TestInterceptor_ExtractKey_NoBodyFallbackOnGet(t *testing.T) {
	key := ExtractKey(RequestInfo{Method: "GET", BodyValue: "from-body"})
	assert.Equal(t, "", key)
}
