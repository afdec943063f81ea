package idempotency

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounters struct {
	decrementOutcome StockDecrementOutcome
	decrementErr     error
	incrementCalls   []decimal.Decimal
}

func (f *fakeCounters) Decrement(ctx context.Context, resourceID string, qty decimal.Decimal) (StockDecrementOutcome, decimal.Decimal, error) {
	if f.decrementErr != nil {
		return 0, decimal.Zero, f.decrementErr
	}
	return f.decrementOutcome, decimal.Zero, nil
}

func (f *fakeCounters) Increment(ctx context.Context, resourceID string, qty decimal.Decimal) error {
	f.incrementCalls = append(f.incrementCalls, qty)
	return nil
}

func TestOverSellGuard_Reserve_UnknownProduct(t *testing.T) {
	counters := &fakeCounters{decrementOutcome: StockUnknownProduct}
	guard := NewOverSellGuard(counters)

	release, err := guard.Reserve(context.Background(), StockRequest{ProductID: "sku-1", Quantity: decimal.NewFromInt(1)})

	require.Error(t, err)
	assert.Nil(t, release)
}

func TestOverSellGuard_Reserve_Insufficient(t *testing.T) {
	counters := &fakeCounters{decrementOutcome: StockInsufficient}
	guard := NewOverSellGuard(counters)

	release, err := guard.Reserve(context.Background(), StockRequest{ProductID: "sku-1", Quantity: decimal.NewFromInt(5)})

	require.Error(t, err)
	assert.Nil(t, release)
}

func TestOverSellGuard_Reserve_SuccessThenFailureCompensates(t *testing.T) {
	counters := &fakeCounters{decrementOutcome: StockDecremented}
	guard := NewOverSellGuard(counters)
	qty := decimal.NewFromInt(3)

	release, err := guard.Reserve(context.Background(), StockRequest{ProductID: "sku-1", Quantity: qty})
	require.NoError(t, err)
	require.NotNil(t, release)

	release(context.Background(), false)

	require.Len(t, counters.incrementCalls, 1)
	assert.True(t, qty.Equal(counters.incrementCalls[0]))
}

func TestOverSellGuard_Reserve_SuccessThenDownstreamOKDoesNotCompensate(t *testing.T) {
	counters := &fakeCounters{decrementOutcome: StockDecremented}
	guard := NewOverSellGuard(counters)

	release, err := guard.Reserve(context.Background(), StockRequest{ProductID: "sku-1", Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)

	release(context.Background(), true)

	assert.Empty(t, counters.incrementCalls)
}

func TestOverSellGuard_Release_IsIdempotent(t *testing.T) {
	counters := &fakeCounters{decrementOutcome: StockDecremented}
	guard := NewOverSellGuard(counters)

	release, err := guard.Reserve(context.Background(), StockRequest{ProductID: "sku-1", Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)

	release(context.Background(), false)
	release(context.Background(), false)

	assert.Len(t, counters.incrementCalls, 1)
}
