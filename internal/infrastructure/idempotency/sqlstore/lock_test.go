package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockID_DeterministicForSameKey(t *testing.T) {
	assert.Equal(t, lockID("order-1"), lockID("order-1"))
}

func TestLockID_DiffersAcrossKeys(t *testing.T) {
	assert.NotEqual(t, lockID("order-1"), lockID("order-2"))
}
