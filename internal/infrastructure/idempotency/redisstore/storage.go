// Package redisstore implements the KV-store Storage and Lock backends
// (§4.3, §4.4) on top of go-redis/v9, the way the wider example pack's
// redis-backed idempotency services (e.g. the SetNX-reservation pattern in
// lalith-99-nimbus-app's internal/redis package) use server-side scripted
// primitives for atomicity instead of check-then-act round trips.
package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/redis/go-redis/v9"

	"metapus/internal/domain/idempotency"
)

const (
	keyPrefix   = "idemp:"
	indexKey    = "idemp:keys:index"
	defaultCap  = 100_000
	versionRaw  = byte(0)
	versionGzip = byte(1)
)

// Store is the KV-store Storage backend.
type Store struct {
	client     redis.Cmdable
	compress   bool
	indexCap   int64
	gzipMinLen int
}

// Option configures a Store.
type Option func(*Store)

// WithCompression enables gzip compression of values above minLen bytes.
// The on-wire value is version || payload (§9 Design Notes), so readers
// never have to guess whether a value is compressed.
func WithCompression(minLen int) Option {
	return func(s *Store) {
		s.compress = true
		s.gzipMinLen = minLen
	}
}

// WithIndexCap bounds the auxiliary sorted-set cleanup index, evicting the
// oldest entries first once exceeded. The index is an optimization, not a
// source of truth: losing entries from it only means Cleanup scans less
// than the full expired set on its next pass.
func WithIndexCap(n int64) Option {
	return func(s *Store) { s.indexCap = n }
}

// NewStore builds a Storage backend over an existing redis client.
func NewStore(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, indexCap: defaultCap}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ idempotency.Storage = (*Store)(nil)

// putScript implements the create-if-absent contract server-side:
//
//	if EXISTS(key) then return 0
//	else SET(key, value); EXPIRE(key, ttl); return 1
var putScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return 1
`)

func wireKey(key string) string { return keyPrefix + key }

func (s *Store) encode(record idempotency.StoredRecord) ([]byte, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	if !s.compress || len(payload) < s.gzipMinLen {
		return append([]byte{versionRaw}, payload...), nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return append([]byte{versionGzip}, buf.Bytes()...), nil
}

func decode(raw []byte) (idempotency.StoredRecord, error) {
	var record idempotency.StoredRecord
	if len(raw) == 0 {
		return record, fmt.Errorf("empty value")
	}
	version, payload := raw[0], raw[1:]
	switch version {
	case versionRaw:
		// payload as-is
	case versionGzip:
		gz, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return record, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		decompressed, err := io.ReadAll(gz)
		if err != nil {
			// Surfaced as a Backend error by the caller, never silently
			// mapped to an empty record — a decompression failure means
			// data corruption, not absence.
			return record, fmt.Errorf("gzip read: %w", err)
		}
		payload = decompressed
	default:
		return record, fmt.Errorf("unknown value version %d", version)
	}

	if err := json.Unmarshal(payload, &record); err != nil {
		return record, fmt.Errorf("unmarshal record: %w", err)
	}
	return record, nil
}

// Put creates the record iff absent, server-side atomically via putScript,
// then indexes the key by creation time for Cleanup.
func (s *Store) Put(ctx context.Context, key string, record idempotency.StoredRecord, ttl time.Duration) (bool, error) {
	wire, err := s.encode(record)
	if err != nil {
		return false, idempotency.NewBackendError("redisstore.encode", err)
	}

	result, err := putScript.Run(ctx, s.client, []string{wireKey(key)}, wire, int64(ttl.Seconds())).Int()
	if err != nil {
		return false, idempotency.NewBackendError("redisstore.put", err)
	}
	if result != 1 {
		return false, nil
	}

	s.indexCreate(ctx, key, record.CreatedAt)
	return true, nil
}

func (s *Store) indexCreate(ctx context.Context, key string, createdAt time.Time) {
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(createdAt.Unix()), Member: key})
	if s.indexCap > 0 {
		pipe.ZRemRangeByRank(ctx, indexKey, 0, -s.indexCap-1)
	}
	_, _ = pipe.Exec(ctx)
}

func (s *Store) Get(ctx context.Context, key string) (*idempotency.StoredRecord, error) {
	raw, err := s.client.Get(ctx, wireKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, idempotency.NewBackendError("redisstore.get", err)
	}

	record, err := decode(raw)
	if err != nil {
		return nil, idempotency.NewBackendError("redisstore.decode", err)
	}
	if record.Expired(time.Now()) {
		return nil, nil
	}
	return &record, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, wireKey(key)).Result()
	if err != nil {
		return false, idempotency.NewBackendError("redisstore.exists", err)
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, wireKey(key)).Result()
	if err != nil {
		return false, idempotency.NewBackendError("redisstore.delete", err)
	}
	s.client.ZRem(ctx, indexKey, key)
	return n > 0, nil
}

func (s *Store) MultiGet(ctx context.Context, keys []string) (map[string]idempotency.StoredRecord, error) {
	if len(keys) == 0 {
		return map[string]idempotency.StoredRecord{}, nil
	}
	wireKeys := make([]string, len(keys))
	for i, k := range keys {
		wireKeys[i] = wireKey(k)
	}

	values, err := s.client.MGet(ctx, wireKeys...).Result()
	if err != nil {
		return nil, idempotency.NewBackendError("redisstore.multiget", err)
	}

	out := make(map[string]idempotency.StoredRecord, len(keys))
	now := time.Now()
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		record, err := decode([]byte(s))
		if err != nil {
			return nil, idempotency.NewBackendError("redisstore.decode", err)
		}
		if record.Expired(now) {
			continue
		}
		out[keys[i]] = record
	}
	return out, nil
}

// Cleanup scans the cleanup index by score (creation timestamp) and removes
// up to batchMax entries whose record has actually expired, per spec.md's
// "auxiliary sorted-set index supports cleanup by scanning by score".
func (s *Store) Cleanup(ctx context.Context, batchMax int) (int, error) {
	candidates, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", time.Now().Unix()),
		Count: int64(batchMax),
	}).Result()
	if err != nil {
		return 0, idempotency.NewBackendError("redisstore.cleanup.scan", err)
	}

	removed := 0
	for _, key := range candidates {
		if removed >= batchMax {
			break
		}
		exists, err := s.client.Exists(ctx, wireKey(key)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			s.client.ZRem(ctx, indexKey, key)
			removed++
			continue
		}
		record, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		if record == nil {
			s.client.ZRem(ctx, indexKey, key)
			removed++
		}
	}
	return removed, nil
}
