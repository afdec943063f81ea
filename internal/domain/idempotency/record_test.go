package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStoredRecord_Expired(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	record := NewStoredRecord(200, []byte(`{}`), nil, time.Minute, now)

	assert.False(t, record.Expired(now))
	assert.False(t, record.Expired(now.Add(59*time.Second)))
	assert.True(t, record.Expired(now.Add(time.Minute)))
	assert.True(t, record.Expired(now.Add(time.Hour)))
}

func TestIsHopByHop(t *testing.T) {
	assert.True(t, IsHopByHop("content-length"))
	assert.True(t, IsHopByHop("Content-Length"))
	assert.True(t, IsHopByHop("TRANSFER-ENCODING"))
	assert.True(t, IsHopByHop("connection"))
	assert.False(t, IsHopByHop("Content-Type"))
	assert.False(t, IsHopByHop("X-Request-Id"))
}
