package idempotency

import (
	"context"
	"time"
)

// Storage is the common contract every durable replay-cache backend
// implements (§4.3): in-KV-store, in-cache, in-SQL-table.
//
// Put is create-if-absent: it never overwrites a live record. Get/Exists
// must never surface a record past its ExpiresAt. Cleanup is safe to call
// concurrently with the request path.
type Storage interface {
	// Put inserts record under key iff no unexpired record already exists
	// there. Returns true on first insert, false if an unexpired record
	// already exists for that key.
	Put(ctx context.Context, key string, record StoredRecord, ttl time.Duration) (bool, error)

	// Get returns the record for key iff present and not expired.
	Get(ctx context.Context, key string) (*StoredRecord, error)

	// Exists is a cheap liveness predicate, consistent with Get for the
	// interceptor's purposes.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key unconditionally. Returns true iff a live record
	// was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// MultiGet bulk-reads keys; absent keys are omitted from the result.
	MultiGet(ctx context.Context, keys []string) (map[string]StoredRecord, error)

	// Cleanup removes up to batchMax expired records and returns the
	// deletion count.
	Cleanup(ctx context.Context, batchMax int) (int, error)
}
