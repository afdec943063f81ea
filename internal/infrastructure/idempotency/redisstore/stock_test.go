package redisstore

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStockCounters_ScaledUnscaled_RoundTrip(t *testing.T) {
	counters := NewStockCounters(nil, 4)

	qty := decimal.RequireFromString("12.3456")
	scaled := counters.scaled(qty)

	assert.Equal(t, int64(123456), scaled)
	assert.True(t, qty.Equal(counters.unscaled(scaled)))
}

func TestStockCounters_DefaultsScaleWhenNonPositive(t *testing.T) {
	counters := NewStockCounters(nil, 0)
	assert.Equal(t, int32(4), counters.scale)

	counters = NewStockCounters(nil, -1)
	assert.Equal(t, int32(4), counters.scale)
}

func TestStockCounters_ScaledRoundsToNearestUnit(t *testing.T) {
	counters := NewStockCounters(nil, 2)
	scaled := counters.scaled(decimal.RequireFromString("1.005"))
	assert.Equal(t, int64(101), scaled)
}
