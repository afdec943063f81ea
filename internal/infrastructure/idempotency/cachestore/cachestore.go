// Package cachestore wraps a generic key/value cache service (e.g. an
// in-process LRU, or a shared memcache-style service) as an
// idempotency.Storage. Per spec.md §4.3, the underlying cache lacks an
// atomic create-if-absent primitive, so this backend must never be relied
// on alone for correctness under concurrency — it is a convenience layer
// meant to sit behind an external Lock (D), exactly as the teacher's own
// SchemaCache is a read-through convenience over Postgres, not a source of
// truth.
package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"metapus/internal/domain/idempotency"
)

// Service is the minimal generic cache contract this backend wraps. A real
// deployment might implement it over an in-process LRU or a shared
// memcache-compatible client; it deliberately has no compare-and-swap.
type Service interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Store adapts a Service into idempotency.Storage.
type Store struct {
	cache Service
}

// NewStore wraps cache as a Storage backend.
func NewStore(cache Service) *Store {
	return &Store{cache: cache}
}

var _ idempotency.Storage = (*Store)(nil)

// envelope is the on-wire shape. version 0 data is never compressed for
// this backend — compression lives in the KV-store backend — but the
// version field is still carried so a reader never has to guess.
type envelope struct {
	Version int                    `json:"version"`
	Record  idempotency.StoredRecord `json:"record"`
}

// Put is NOT atomic: it does a Get then a Set, exactly the TOCTOU a caller
// must guard against with an external Lock per spec.md §4.3. It still
// honours create-if-absent semantics for a single caller holding that lock.
func (s *Store) Put(ctx context.Context, key string, record idempotency.StoredRecord, ttl time.Duration) (bool, error) {
	existing, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	raw, err := json.Marshal(envelope{Version: 0, Record: record})
	if err != nil {
		return false, idempotency.NewBackendError("cachestore.marshal", err)
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		return false, idempotency.NewBackendError("cachestore.set", err)
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, key string) (*idempotency.StoredRecord, error) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, idempotency.NewBackendError("cachestore.get", err)
	}
	if !ok {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// The source this backend is adapted from silently returned {} on a
		// decompression/deserialization failure, masking data corruption.
		// Here any such failure is surfaced as a Backend error instead.
		return nil, idempotency.NewBackendError("cachestore.unmarshal", err)
	}
	if env.Version != 0 {
		return nil, idempotency.NewBackendError("cachestore.unmarshal", fmt.Errorf("unsupported envelope version %d", env.Version))
	}

	if env.Record.Expired(time.Now()) {
		_ = s.cache.Delete(ctx, key)
		return nil, nil
	}
	record := env.Record
	return &record, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	record, err := s.Get(ctx, key)
	return record != nil, err
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	existing, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return false, idempotency.NewBackendError("cachestore.delete", err)
	}
	return true, nil
}

func (s *Store) MultiGet(ctx context.Context, keys []string) (map[string]idempotency.StoredRecord, error) {
	out := make(map[string]idempotency.StoredRecord, len(keys))
	for _, key := range keys {
		record, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if record != nil {
			out[key] = *record
		}
	}
	return out, nil
}

// Cleanup scans every key the underlying Service knows about, relying on
// Get's lazy-expiry side effect to delete anything stale. This is O(n) in
// the cache's key count — acceptable for the convenience backend, which
// spec.md explicitly scopes to "sits behind an external lock", not to
// high-volume standalone use.
func (s *Store) Cleanup(ctx context.Context, batchMax int) (int, error) {
	keys, err := s.cache.Keys(ctx)
	if err != nil {
		return 0, idempotency.NewBackendError("cachestore.keys", err)
	}
	removed := 0
	for _, key := range keys {
		if removed >= batchMax {
			break
		}
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var env envelope
		if json.Unmarshal(raw, &env) != nil {
			continue
		}
		if env.Record.Expired(time.Now()) {
			if err := s.cache.Delete(ctx, key); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
