package idempotency

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// StockDecrementOutcome mirrors the three-way result of the oversell
// script (§4.6): unknown resource, insufficient stock, or a successful
// decrement carrying the remaining balance.
type StockDecrementOutcome int

const (
	// StockUnknownProduct means no counter exists for the requested
	// resource.
	StockUnknownProduct StockDecrementOutcome = iota
	// StockInsufficient means the counter exists but is smaller than the
	// requested quantity.
	StockInsufficient
	// StockDecremented means the decrement succeeded.
	StockDecremented
)

// StockCounters is the atomic decrement-if-sufficient primitive the
// Oversell Guard drives. Implementations must guarantee the counter is
// never observed negative from outside: Decrement either fully succeeds or
// leaves the counter untouched.
type StockCounters interface {
	// Decrement atomically checks and decrements the counter for
	// resourceID by qty. remaining is only meaningful when outcome is
	// StockDecremented.
	Decrement(ctx context.Context, resourceID string, qty decimal.Decimal) (outcome StockDecrementOutcome, remaining decimal.Decimal, err error)

	// Increment reverses a prior successful Decrement (the compensating
	// operation run when the downstream handler does not return 2xx).
	Increment(ctx context.Context, resourceID string, qty decimal.Decimal) error
}

// StockRequest is the (product_id, quantity) pair the Interceptor extracts
// from the request body when OverSellProtection is enabled.
type StockRequest struct {
	ProductID string
	Quantity  decimal.Decimal
}

// OverSellGuard runs the atomic stock check before HANDLER_EXECUTE and
// registers the compensating increment for a non-2xx downstream response.
type OverSellGuard struct {
	counters StockCounters
}

// NewOverSellGuard builds a guard backed by counters.
func NewOverSellGuard(counters StockCounters) *OverSellGuard {
	return &OverSellGuard{counters: counters}
}

// parseQuantity parses the request-carried quantity string as a decimal.
func parseQuantity(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, errEmptyQuantity
	}
	return decimal.NewFromString(s)
}

var errEmptyQuantity = errors.New("empty quantity")

// Reserve attempts to decrement stock for req.ProductID by req.Quantity.
// On success it returns a release func that must be called (with the
// downstream response's success/failure) to either no-op or compensate.
func (g *OverSellGuard) Reserve(ctx context.Context, req StockRequest) (release func(ctx context.Context, downstreamSucceeded bool), err error) {
	outcome, _, err := g.counters.Decrement(ctx, req.ProductID, req.Quantity)
	if err != nil {
		return nil, NewBackendError("oversell.decrement", err)
	}

	switch outcome {
	case StockUnknownProduct:
		return nil, NewOverSellUnknownProduct(req.ProductID)
	case StockInsufficient:
		return nil, NewOverSellInsufficientStock(req.ProductID, req.Quantity.IntPart(), -1)
	}

	released := false
	release = func(ctx context.Context, downstreamSucceeded bool) {
		if released || downstreamSucceeded {
			return
		}
		released = true
		_ = g.counters.Increment(ctx, req.ProductID, req.Quantity)
	}
	return release, nil
}
