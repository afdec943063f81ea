package redisstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metapus/internal/domain/idempotency"
)

func TestStore_EncodeDecode_RawVersion(t *testing.T) {
	s := NewStore(nil)
	record := idempotency.NewStoredRecord(200, []byte(`{"ok":true}`), nil, time.Minute, time.Now())

	wire, err := s.encode(record)
	require.NoError(t, err)
	assert.Equal(t, versionRaw, wire[0])

	got, err := decode(wire)
	require.NoError(t, err)
	assert.Equal(t, record.Status, got.Status)
	assert.Equal(t, record.Body, got.Body)
}

func TestStore_EncodeDecode_CompressedAboveThreshold(t *testing.T) {
	s := NewStore(nil, WithCompression(8))
	body := make([]byte, 200)
	for i := range body {
		body[i] = 'x'
	}
	record := idempotency.NewStoredRecord(200, body, nil, time.Minute, time.Now())

	wire, err := s.encode(record)
	require.NoError(t, err)
	assert.Equal(t, versionGzip, wire[0])

	got, err := decode(wire)
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
}

func TestStore_Encode_BelowThresholdStaysUncompressed(t *testing.T) {
	s := NewStore(nil, WithCompression(1<<20))
	record := idempotency.NewStoredRecord(200, []byte(`tiny`), nil, time.Minute, time.Now())

	wire, err := s.encode(record)
	require.NoError(t, err)
	assert.Equal(t, versionRaw, wire[0])
}

func TestDecode_EmptyIsError(t *testing.T) {
	_, err := decode(nil)
	assert.Error(t, err)
}

func TestDecode_UnknownVersionIsError(t *testing.T) {
	_, err := decode([]byte{0xFF, 'x'})
	assert.Error(t, err)
}
