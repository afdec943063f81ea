// Package sqlstore implements the SQL Storage backend (§4.3) on a single
// idempotency_keys table, using pgx/v5 and squirrel the way the teacher's
// catalog_repo/document_repo packages build their statements, adapted from
// postgres.IdempotencyStore's transaction and retry discipline.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"metapus/internal/domain/idempotency"
	"metapus/pkg/logger"
)

// TableName is the default table this backend targets, matching the schema
// in spec.md §6.
const TableName = "idempotency_keys"

// deadlock / serialization failure SQLSTATE codes that are safe to retry.
const (
	sqlStateDeadlockDetected    = "40P01"
	sqlStateSerializationFailed = "40001"
)

const (
	maxRetries     = 3
	retryBackoff   = 100 * time.Millisecond
	cleanupBatch   = 1000
	cleanupDelay   = 10 * time.Millisecond
)

// Store is the SQL Storage backend.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// NewStore builds a Store against pool and the default table name.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, table: TableName}
}

var _ idempotency.Storage = (*Store)(nil)

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// row mirrors one idempotency_keys row.
type row struct {
	Data      []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Put inserts a record, or is a no-op, inside a READ COMMITTED transaction
// using INSERT ... ON CONFLICT DO NOTHING so a racing insert never
// overwrites a live record. Deadlocks are retried up to 3 times with a
// fixed 100ms back-off; a 4th failure propagates.
func (s *Store) Put(ctx context.Context, key string, record idempotency.StoredRecord, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, idempotency.NewBackendError("sqlstore.marshal", err)
	}

	var created bool
	err = s.withDeadlockRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		query, args, err := builder().
			Insert(s.table).
			Columns("idempotency_key", "data", "expires_at", "created_at", "updated_at").
			Values(key, data, record.ExpiresAt, record.CreatedAt, record.CreatedAt).
			Suffix("ON CONFLICT (idempotency_key) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("exec insert: %w", err)
		}
		created = tag.RowsAffected() == 1

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, idempotency.NewBackendError("sqlstore.put", err)
	}
	return created, nil
}

// Get reads a live record with SELECT ... FOR UPDATE SKIP LOCKED, so two
// concurrent duplicate requests can't both read a just-committed record and
// race its insert on the other side (§4.3 SQL backend).
func (s *Store) Get(ctx context.Context, key string) (*idempotency.StoredRecord, error) {
	query, args, err := builder().
		Select("data", "expires_at", "created_at").
		From(s.table).
		Where(sq.Eq{"idempotency_key": key}).
		Where(sq.Gt{"expires_at": time.Now()}).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, idempotency.NewBackendError("sqlstore.build_get", err)
	}

	var r row
	err = s.pool.QueryRow(ctx, query, args...).Scan(&r.Data, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, idempotency.NewBackendError("sqlstore.get", err)
	}

	var record idempotency.StoredRecord
	if err := json.Unmarshal(r.Data, &record); err != nil {
		return nil, idempotency.NewBackendError("sqlstore.unmarshal", err)
	}
	return &record, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	query, args, err := builder().
		Select("1").
		From(s.table).
		Where(sq.Eq{"idempotency_key": key}).
		Where(sq.Gt{"expires_at": time.Now()}).
		ToSql()
	if err != nil {
		return false, idempotency.NewBackendError("sqlstore.build_exists", err)
	}

	var one int
	err = s.pool.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, idempotency.NewBackendError("sqlstore.exists", err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	query, args, err := builder().
		Delete(s.table).
		Where(sq.Eq{"idempotency_key": key}).
		Where(sq.Gt{"expires_at": time.Now()}).
		ToSql()
	if err != nil {
		return false, idempotency.NewBackendError("sqlstore.build_delete", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, idempotency.NewBackendError("sqlstore.delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) MultiGet(ctx context.Context, keys []string) (map[string]idempotency.StoredRecord, error) {
	if len(keys) == 0 {
		return map[string]idempotency.StoredRecord{}, nil
	}

	query, args, err := builder().
		Select("idempotency_key", "data", "expires_at", "created_at").
		From(s.table).
		Where(sq.Eq{"idempotency_key": keys}).
		Where(sq.Gt{"expires_at": time.Now()}).
		ToSql()
	if err != nil {
		return nil, idempotency.NewBackendError("sqlstore.build_multiget", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, idempotency.NewBackendError("sqlstore.multiget", err)
	}
	defer rows.Close()

	out := make(map[string]idempotency.StoredRecord, len(keys))
	for rows.Next() {
		var key string
		var r row
		if err := rows.Scan(&key, &r.Data, &r.ExpiresAt, &r.CreatedAt); err != nil {
			return nil, idempotency.NewBackendError("sqlstore.multiget_scan", err)
		}
		var record idempotency.StoredRecord
		if err := json.Unmarshal(r.Data, &record); err != nil {
			return nil, idempotency.NewBackendError("sqlstore.unmarshal", err)
		}
		out[key] = record
	}
	return out, rows.Err()
}

// Cleanup deletes expired rows in batches of 1000, sleeping ~10ms between
// batches to yield to the write path, per spec.md §4.3.
func (s *Store) Cleanup(ctx context.Context, batchMax int) (int, error) {
	if batchMax <= 0 {
		batchMax = cleanupBatch
	}

	total := 0
	for total < batchMax {
		take := cleanupBatch
		if remaining := batchMax - total; remaining < take {
			take = remaining
		}

		query, args, err := builder().
			Delete(s.table).
			Where(sq.Expr(fmt.Sprintf(
				"idempotency_key IN (SELECT idempotency_key FROM %s WHERE expires_at < $1 LIMIT $2)",
				s.table), time.Now(), take)).
			ToSql()
		if err != nil {
			return total, idempotency.NewBackendError("sqlstore.build_cleanup", err)
		}

		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return total, idempotency.NewBackendError("sqlstore.cleanup", err)
		}
		deleted := int(tag.RowsAffected())
		total += deleted
		if deleted < take {
			break
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(cleanupDelay):
		}
	}
	return total, nil
}

// withDeadlockRetry retries fn up to maxRetries times on a deadlock or
// serialization-failure SQLSTATE, with a fixed back-off.
func (s *Store) withDeadlockRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		logger.Warn(ctx, "sqlstore: retrying after deadlock", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateDeadlockDetected || pgErr.Code == sqlStateSerializationFailed
	}
	return false
}
