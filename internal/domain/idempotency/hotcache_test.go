package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHotCache_SeenWithinTTL(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	hc := NewHotCache(3 * time.Second)

	hc.Warm("key-1", now)

	assert.True(t, hc.Seen("key-1", now.Add(time.Second)))
}

func TestHotCache_NotSeenAfterTTL(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	hc := NewHotCache(3 * time.Second)

	hc.Warm("key-1", now)

	assert.False(t, hc.Seen("key-1", now.Add(5*time.Second)))
}

func TestHotCache_MissCarriesNoInformation(t *testing.T) {
	hc := NewHotCache(time.Second)
	assert.False(t, hc.Seen("never-warmed", time.Now()))
}

func TestHotCache_EvictRemovesExpiredOnly(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	hc := NewHotCache(2 * time.Second)

	hc.Warm("stale", now)
	hc.Warm("fresh", now.Add(3*time.Second))

	removed := hc.Evict(now.Add(3 * time.Second))

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, hc.Len())
	assert.True(t, hc.Seen("fresh", now.Add(3*time.Second)))
}

func TestHotCache_Len(t *testing.T) {
	hc := NewHotCache(time.Minute)
	now := time.Now()
	hc.Warm("a", now)
	hc.Warm("b", now)
	assert.Equal(t, 2, hc.Len())
}
