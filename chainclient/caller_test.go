package chainclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_ExponentialUntilCap(t *testing.T) {
	base := time.Second
	cap := 30 * time.Second
	assert.Equal(t, time.Second, Backoff(0, base, cap, false))
	assert.Equal(t, 2*time.Second, Backoff(1, base, cap, false))
	assert.Equal(t, 4*time.Second, Backoff(2, base, cap, false))
	assert.Equal(t, cap, Backoff(10, base, cap, false))
}

func TestBackoff_RateLimitedExtends(t *testing.T) {
	base := time.Second
	cap := time.Minute
	plain := Backoff(1, base, cap, false)
	limited := Backoff(1, base, cap, true)
	assert.Greater(t, limited, plain)
}

func TestReceiptSuccess_EVM(t *testing.T) {
	one := uint64(1)
	zero := uint64(0)
	assert.True(t, Receipt{Status: &one}.Success(false))
	assert.False(t, Receipt{Status: &zero}.Success(false))
	assert.False(t, Receipt{}.Success(false), "nil status is not success")
}

func TestReceiptSuccess_AccountModel(t *testing.T) {
	assert.True(t, Receipt{Result: ""}.Success(true))
	assert.True(t, Receipt{Result: "SUCCESS"}.Success(true))
	assert.False(t, Receipt{Result: "FAILURE"}.Success(true))
}
