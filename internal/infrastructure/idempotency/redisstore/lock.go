package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"metapus/internal/domain/idempotency"
)

const lockPrefix = "lock:"

// releaseScript checks token ownership before deleting, so a holder whose
// TTL already expired (and whose key a new holder has since claimed) can
// never release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is the KV-store Lock backend: SETNX + EXPIRE to acquire,
// GET-compare + DEL to release.
type Lock struct {
	client redis.Cmdable
}

// NewLock builds a Lock backend over an existing redis client.
func NewLock(client redis.Cmdable) *Lock {
	return &Lock{client: client}
}

var _ idempotency.Lock = (*Lock)(nil)

func lockWireKey(key string) string { return lockPrefix + key }

func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (idempotency.LockToken, bool, error) {
	token := idempotency.NewLockToken(time.Now())
	ok, err := l.client.SetNX(ctx, lockWireKey(key), string(token), ttl).Result()
	if err != nil {
		return "", false, idempotency.NewBackendError("redisstore.lock.acquire", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Lock) Release(ctx context.Context, key string, token idempotency.LockToken) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{lockWireKey(key)}, string(token)).Int()
	if err != nil {
		return false, idempotency.NewBackendError("redisstore.lock.release", err)
	}
	return n == 1, nil
}

func (l *Lock) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, lockWireKey(key)).Result()
	if err != nil {
		return false, idempotency.NewBackendError("redisstore.lock.islocked", err)
	}
	return n > 0, nil
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
