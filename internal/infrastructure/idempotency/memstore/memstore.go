// Package memstore provides an in-process Storage and Lock implementation
// for the idempotency core. It is the reference backend used in tests and
// single-process deployments: true create-if-absent and compare-and-delete
// semantics are trivial to get right behind a single mutex, the way the
// teacher's internal/infrastructure/cache.SchemaCache guards its in-memory
// maps with a sync.RWMutex.
package memstore

import (
	"context"
	"sync"
	"time"

	"metapus/internal/domain/idempotency"
)

// Store is an in-memory idempotency.Storage. Not shared across processes —
// intended for tests, single-instance deployments, and local development.
type Store struct {
	mu      sync.Mutex
	records map[string]idempotency.StoredRecord
}

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	return &Store{records: make(map[string]idempotency.StoredRecord)}
}

var _ idempotency.Storage = (*Store)(nil)

func (s *Store) Put(_ context.Context, key string, record idempotency.StoredRecord, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.records[key]; ok && !existing.Expired(now) {
		return false, nil
	}
	s.records[key] = record
	return true, nil
}

func (s *Store) Get(_ context.Context, key string) (*idempotency.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok || record.Expired(time.Now()) {
		return nil, nil
	}
	out := record
	return &out, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	record, err := s.Get(ctx, key)
	return record != nil, err
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return false, nil
	}
	delete(s.records, key)
	return !record.Expired(time.Now()), nil
}

func (s *Store) MultiGet(_ context.Context, keys []string) (map[string]idempotency.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make(map[string]idempotency.StoredRecord, len(keys))
	for _, key := range keys {
		if record, ok := s.records[key]; ok && !record.Expired(now) {
			out[key] = record
		}
	}
	return out, nil
}

func (s *Store) Cleanup(_ context.Context, batchMax int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, record := range s.records {
		if removed >= batchMax {
			break
		}
		if record.Expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Lock is an in-memory idempotency.Lock, guarded by the same mutex
// discipline as Store.
type Lock struct {
	mu    sync.Mutex
	holds map[string]lockHold
}

type lockHold struct {
	token   idempotency.LockToken
	expires time.Time
}

// NewLock builds an empty in-memory lock table.
func NewLock() *Lock {
	return &Lock{holds: make(map[string]lockHold)}
}

var _ idempotency.Lock = (*Lock)(nil)

func (l *Lock) Acquire(_ context.Context, key string, ttl time.Duration) (idempotency.LockToken, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if hold, ok := l.holds[key]; ok && hold.expires.After(now) {
		return "", false, nil
	}
	token := idempotency.NewLockToken(now)
	l.holds[key] = lockHold{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *Lock) Release(_ context.Context, key string, token idempotency.LockToken) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hold, ok := l.holds[key]
	if !ok || hold.token != token {
		return false, nil
	}
	delete(l.holds, key)
	return true, nil
}

func (l *Lock) IsLocked(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hold, ok := l.holds[key]
	return ok && hold.expires.After(time.Now()), nil
}

func (l *Lock) AcquireAll(ctx context.Context, keys []string, ttl time.Duration) (map[string]idempotency.LockToken, bool, error) {
	acquired := make(map[string]idempotency.LockToken, len(keys))
	for _, key := range keys {
		token, ok, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			_ = l.ReleaseAll(ctx, acquired)
			return nil, false, err
		}
		if !ok {
			_ = l.ReleaseAll(ctx, acquired)
			return nil, false, nil
		}
		acquired[key] = token
	}
	return acquired, true, nil
}

func (l *Lock) ReleaseAll(ctx context.Context, tokens map[string]idempotency.LockToken) error {
	for key, token := range tokens {
		if _, err := l.Release(ctx, key, token); err != nil {
			return err
		}
	}
	return nil
}
