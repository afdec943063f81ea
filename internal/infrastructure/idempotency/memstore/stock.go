package memstore

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"metapus/internal/domain/idempotency"
)

// StockCounters is an in-memory idempotency.StockCounters, used by tests
// and local development in place of the Redis-backed oversell counters.
type StockCounters struct {
	mu     sync.Mutex
	levels map[string]decimal.Decimal
}

// NewStockCounters builds a stock table seeded with initial levels.
func NewStockCounters(initial map[string]decimal.Decimal) *StockCounters {
	levels := make(map[string]decimal.Decimal, len(initial))
	for id, qty := range initial {
		levels[id] = qty
	}
	return &StockCounters{levels: levels}
}

var _ idempotency.StockCounters = (*StockCounters)(nil)

func (s *StockCounters) Decrement(_ context.Context, resourceID string, qty decimal.Decimal) (idempotency.StockDecrementOutcome, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.levels[resourceID]
	if !ok {
		return idempotency.StockUnknownProduct, decimal.Zero, nil
	}
	if current.LessThan(qty) {
		return idempotency.StockInsufficient, current, nil
	}
	remaining := current.Sub(qty)
	s.levels[resourceID] = remaining
	return idempotency.StockDecremented, remaining, nil
}

func (s *StockCounters) Increment(_ context.Context, resourceID string, qty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[resourceID] = s.levels[resourceID].Add(qty)
	return nil
}

// Set overwrites the stock level for resourceID, for test setup.
func (s *StockCounters) Set(resourceID string, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[resourceID] = qty
}

// Get returns the current stock level for resourceID.
func (s *StockCounters) Get(resourceID string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qty, ok := s.levels[resourceID]
	return qty, ok
}
