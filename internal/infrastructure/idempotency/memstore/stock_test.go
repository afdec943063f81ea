package memstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metapus/internal/domain/idempotency"
)

func TestStockCounters_Decrement_Sufficient(t *testing.T) {
	counters := NewStockCounters(map[string]decimal.Decimal{"sku-1": decimal.NewFromInt(10)})

	outcome, remaining, err := counters.Decrement(context.Background(), "sku-1", decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, idempotency.StockDecremented, outcome)
	assert.True(t, decimal.NewFromInt(7).Equal(remaining))
}

func TestStockCounters_Decrement_Insufficient(t *testing.T) {
	counters := NewStockCounters(map[string]decimal.Decimal{"sku-1": decimal.NewFromInt(2)})

	outcome, _, err := counters.Decrement(context.Background(), "sku-1", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, idempotency.StockInsufficient, outcome)

	qty, _ := counters.Get("sku-1")
	assert.True(t, decimal.NewFromInt(2).Equal(qty))
}

func TestStockCounters_Decrement_UnknownProduct(t *testing.T) {
	counters := NewStockCounters(nil)

	outcome, _, err := counters.Decrement(context.Background(), "nope", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, idempotency.StockUnknownProduct, outcome)
}

func TestStockCounters_Increment_Reverses(t *testing.T) {
	counters := NewStockCounters(map[string]decimal.Decimal{"sku-1": decimal.NewFromInt(5)})

	_, _, err := counters.Decrement(context.Background(), "sku-1", decimal.NewFromInt(3))
	require.NoError(t, err)

	err = counters.Increment(context.Background(), "sku-1", decimal.NewFromInt(3))
	require.NoError(t, err)

	qty, _ := counters.Get("sku-1")
	assert.True(t, decimal.NewFromInt(5).Equal(qty))
}
