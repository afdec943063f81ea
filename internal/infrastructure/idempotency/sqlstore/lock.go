package sqlstore

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"metapus/internal/domain/idempotency"
)

// AdvisoryLock is the SQL Lock backend: pg_try_advisory_lock on a connection
// checked out of the pool for the hold's duration, released with
// pg_advisory_unlock on the same connection (advisory locks are
// session-scoped, so the connection must stay pinned between Acquire and
// Release). Keys are hashed to the int64 lock id Postgres requires.
type AdvisoryLock struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	holds map[string]*advisoryHold
}

type advisoryHold struct {
	conn  *pgxpool.Conn
	id    int64
	token idempotency.LockToken
}

// NewAdvisoryLock builds an AdvisoryLock over pool.
func NewAdvisoryLock(pool *pgxpool.Pool) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, holds: make(map[string]*advisoryHold)}
}

var _ idempotency.Lock = (*AdvisoryLock)(nil)

func lockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// Acquire pins a pool connection and attempts a non-blocking advisory lock
// on it. ttl is honored by self-expiry rather than by the lock itself —
// Postgres advisory locks have no built-in TTL — matching Release's
// compare-and-delete semantics with the in-memory token.
func (l *AdvisoryLock) Acquire(ctx context.Context, key string, ttl time.Duration) (idempotency.LockToken, bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return "", false, idempotency.NewBackendError("sqlstore.lock.acquire_conn", err)
	}

	id := lockID(key)
	var locked bool
	err = conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&locked)
	if err != nil {
		conn.Release()
		return "", false, idempotency.NewBackendError("sqlstore.lock.try_advisory", err)
	}
	if !locked {
		conn.Release()
		return "", false, nil
	}

	token := idempotency.NewLockToken(time.Now())
	hold := &advisoryHold{conn: conn, id: id, token: token}

	l.mu.Lock()
	l.holds[key] = hold
	l.mu.Unlock()

	time.AfterFunc(ttl, func() {
		l.mu.Lock()
		h, ok := l.holds[key]
		if ok && h.token == token {
			delete(l.holds, key)
		}
		l.mu.Unlock()
		if ok {
			l.unlockHold(context.Background(), h)
		}
	})

	return token, true, nil
}

func (l *AdvisoryLock) Release(ctx context.Context, key string, token idempotency.LockToken) (bool, error) {
	l.mu.Lock()
	h, ok := l.holds[key]
	if !ok || h.token != token {
		l.mu.Unlock()
		return false, nil
	}
	delete(l.holds, key)
	l.mu.Unlock()

	return true, l.unlockHold(ctx, h)
}

func (l *AdvisoryLock) unlockHold(ctx context.Context, h *advisoryHold) error {
	defer h.conn.Release()
	if _, err := h.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", h.id); err != nil {
		return idempotency.NewBackendError("sqlstore.lock.unlock", err)
	}
	return nil
}

func (l *AdvisoryLock) IsLocked(ctx context.Context, key string) (bool, error) {
	var locked bool
	err := l.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID(key)).Scan(&locked)
	if err != nil {
		return false, idempotency.NewBackendError("sqlstore.lock.islocked", err)
	}
	if locked {
		_, err := l.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockID(key))
		if err != nil {
			return false, idempotency.NewBackendError("sqlstore.lock.islocked_release", err)
		}
		return false, nil
	}
	return true, nil
}

func (l *AdvisoryLock) AcquireAll(ctx context.Context, keys []string, ttl time.Duration) (map[string]idempotency.LockToken, bool, error) {
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

func (l *AdvisoryLock) ReleaseAll(ctx context.Context, tokens map[string]idempotency.LockToken) error {
	for key, token := range tokens {
		if _, err := l.Release(ctx, key, token); err != nil {
			return err
		}
	}
	return nil
}
