package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"metapus/internal/core/apperror"
)

func TestValidate_Empty(t *testing.T) {
	err := Validate("")
	assert.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	assert.True(t, ok)
	assert.Equal(t, CodeInvalidIdempotencyKey, appErr.Code)
}

func TestValidate_TooLong(t *testing.T) {
	long := make([]byte, MaxKeyLength+1)
	for i := range long {
		long[i] = 'a'
	}
	err := Validate(string(long))
	assert.Error(t, err)
}

func TestValidate_DisallowedCharacter(t *testing.T) {
	assert.Error(t, Validate("not a valid key!"))
}

func TestValidate_PlainKeyOK(t *testing.T) {
	assert.NoError(t, Validate("order-2026-07-31_retry.1"))
}

func TestValidate_NonHexUUIDLayoutIsPlainKey(t *testing.T) {
	// 'z' is not a hex digit, so the key is not UUID-shaped and is checked
	// only against the plain-key alphabet, which it satisfies.
	err := Validate("zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz")
	assert.NoError(t, err)
}

func TestValidate_UUIDShapedValid(t *testing.T) {
	assert.NoError(t, Validate("a1b2c3d4-e5f6-4711-8abc-0123456789ab"))
}

func TestNormalize_TrimsAndLowersUUID(t *testing.T) {
	got := Normalize("  A1B2C3D4-E5F6-4711-8ABC-0123456789AB  ")
	assert.Equal(t, "a1b2c3d4-e5f6-4711-8abc-0123456789ab", got)
}

func TestNormalize_IsIdempotent(t *testing.T) {
	key := "  Some-Key_1  "
	once := Normalize(key)
	twice := Normalize(once)
	assert.Equal(t, once, twice)
}

func TestGenerate_ProducesValidKey(t *testing.T) {
	key := Generate()
	assert.NoError(t, Validate(key))
}
