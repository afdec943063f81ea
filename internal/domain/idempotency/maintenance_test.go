package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenance_RunOnce_CleansExpiredAcrossBackends(t *testing.T) {
	now := time.Now()
	a := newMemStorage()
	b := newMemStorage()

	_, err := a.Put(context.Background(), "expired-a", NewStoredRecord(200, nil, nil, -time.Minute, now.Add(-2*time.Minute)), time.Minute)
	require.NoError(t, err)
	_, err = b.Put(context.Background(), "expired-b", NewStoredRecord(200, nil, nil, -time.Minute, now.Add(-2*time.Minute)), time.Minute)
	require.NoError(t, err)

	hotCache := NewHotCache(time.Millisecond)
	hotCache.Warm("stale", now.Add(-time.Hour))

	m := NewMaintenance([]Storage{a, b}, hotCache, time.Hour, 100)
	m.RunOnce(context.Background())

	gotA, _ := a.Get(context.Background(), "expired-a")
	gotB, _ := b.Get(context.Background(), "expired-b")
	assert.Nil(t, gotA)
	assert.Nil(t, gotB)
	assert.Equal(t, 0, hotCache.Len())
}

func TestMaintenance_StartStop_IsIdempotentAndClean(t *testing.T) {
	storage := newMemStorage()
	m := NewMaintenance([]Storage{storage}, NewHotCache(time.Second), 10*time.Millisecond, 10)

	m.Start(context.Background())
	m.Start(context.Background()) // second call is a no-op, must not deadlock or double-launch

	time.Sleep(30 * time.Millisecond)
	m.Stop()
}

func TestNewMaintenance_DefaultsInvalidIntervalAndBatch(t *testing.T) {
	m := NewMaintenance(nil, nil, 0, 0)
	assert.Equal(t, DefaultMaintenanceInterval, m.interval)
	assert.Equal(t, DefaultCleanupBatch, m.batch)
}
