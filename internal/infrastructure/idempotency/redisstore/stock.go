package redisstore

import (
	"fmt"

	"context"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"metapus/internal/domain/idempotency"
)

// stockKeyPrefix matches the KV-store key convention from spec.md §6:
// product:stock:{id}.
const stockKeyPrefix = "product:stock:"

// decrementScript implements the oversell primitive from §4.6:
//
//	s = GET(key)
//	if s == nil -> return -1     (unknown resource)
//	if s <  q   -> return  0     (insufficient)
//	DECRBY(key, q); return s-q
//
// Quantities are stored as integer "scale" units (the decimal shifted by
// ARGV[2] decimal places) so Lua's integer arithmetic stays exact; the
// client shifts back when interpreting the result.
var decrementScript = redis.NewScript(`
local s = redis.call("GET", KEYS[1])
if s == false then
	return -1
end
local current = tonumber(s)
local qty = tonumber(ARGV[1])
if current < qty then
	return 0
end
redis.call("DECRBY", KEYS[1], qty)
return current - qty
`)

// StockCounters is the oversell guard's Redis-backed counter store.
type StockCounters struct {
	client redis.Cmdable
	scale  int32
}

// NewStockCounters builds a StockCounters that stores quantities scaled to
// scale decimal places (4 matches the platform's fixed-point Quantity type).
func NewStockCounters(client redis.Cmdable, scale int32) *StockCounters {
	if scale <= 0 {
		scale = 4
	}
	return &StockCounters{client: client, scale: scale}
}

var _ idempotency.StockCounters = (*StockCounters)(nil)

func stockKey(resourceID string) string { return stockKeyPrefix + resourceID }

func (s *StockCounters) scaled(d decimal.Decimal) int64 {
	return d.Shift(s.scale).Round(0).IntPart()
}

func (s *StockCounters) unscaled(v int64) decimal.Decimal {
	return decimal.New(v, -s.scale)
}

func (s *StockCounters) Decrement(ctx context.Context, resourceID string, qty decimal.Decimal) (idempotency.StockDecrementOutcome, decimal.Decimal, error) {
	result, err := decrementScript.Run(ctx, s.client, []string{stockKey(resourceID)}, s.scaled(qty)).Int64()
	if err != nil {
		return 0, decimal.Zero, idempotency.NewBackendError("redisstore.stock.decrement", err)
	}

	switch {
	case result == -1:
		return idempotency.StockUnknownProduct, decimal.Zero, nil
	case result == 0:
		return idempotency.StockInsufficient, decimal.Zero, nil
	default:
		return idempotency.StockDecremented, s.unscaled(result), nil
	}
}

func (s *StockCounters) Increment(ctx context.Context, resourceID string, qty decimal.Decimal) error {
	if err := s.client.IncrBy(ctx, stockKey(resourceID), s.scaled(qty)).Err(); err != nil {
		return idempotency.NewBackendError("redisstore.stock.increment", err)
	}
	return nil
}

// Seed sets an initial stock level for resourceID, for test/ops setup.
func (s *StockCounters) Seed(ctx context.Context, resourceID string, qty decimal.Decimal) error {
	if err := s.client.Set(ctx, stockKey(resourceID), s.scaled(qty), 0).Err(); err != nil {
		return fmt.Errorf("seed stock: %w", err)
	}
	return nil
}
