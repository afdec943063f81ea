package idempotency

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// LockToken is a per-acquisition unique value associated with a lock key.
// It is held in the acquiring process's memory for the duration of the
// critical section and is the only thing that authorizes release: a holder
// whose TTL has already expired, and who no longer matches the token stored
// by the backend, has its Release calls become no-ops.
type LockToken string

// NewLockToken generates a fresh token combining cryptographically random
// bytes with the acquisition timestamp, so tokens are both unguessable and
// self-describing for diagnostics.
func NewLockToken(now time.Time) LockToken {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return LockToken(fmt.Sprintf("%d-%s", now.UnixNano(), hex.EncodeToString(buf[:])))
}

// Lock is the common contract every short-lived advisory mutex backend
// implements (§4.4): in-KV-store, on-filesystem.
//
// Locks self-expire by their TTL; holders never renew. Acquire is
// non-blocking — retry scheduling is the caller's (Interceptor's)
// responsibility.
type Lock interface {
	// Acquire attempts to take the lock for key, non-blocking. Returns the
	// token the caller now holds, and true, iff acquisition succeeded.
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockToken, bool, error)

	// Release releases the lock for key iff the caller's token still
	// matches what the backend holds. Never releases another holder's
	// lock; returns false on token mismatch or absent lock.
	Release(ctx context.Context, key string, token LockToken) (bool, error)

	// IsLocked is an observational predicate; it may race with concurrent
	// acquisitions and must never be used to prove absence of a lock.
	IsLocked(ctx context.Context, key string) (bool, error)

	// AcquireAll is all-or-nothing: on partial success, already-acquired
	// locks are released before returning false.
	AcquireAll(ctx context.Context, keys []string, ttl time.Duration) (map[string]LockToken, bool, error)

	// ReleaseAll releases every lock named in tokens.
	ReleaseAll(ctx context.Context, tokens map[string]LockToken) error
}
