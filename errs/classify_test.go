package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(TransientInfra("x", nil)))
	assert.False(t, Retryable(Invariant("x", nil)))
	assert.True(t, Retryable(errors.New("plain error")), "unclassified errors default to retryable")
}

func TestMessage(t *testing.T) {
	ce := Invariant("invalid_data", errors.New("missing wallet"))
	msg := Message(ce)
	assert.Contains(t, msg, "logical_invariant")
	assert.Contains(t, msg, "invalid_data")
	assert.Contains(t, msg, "missing wallet")
}

func TestMessage_Unclassified(t *testing.T) {
	assert.Equal(t, "[unknown] boom", Message(errors.New("boom")))
}

func TestConstructorsSetRetryability(t *testing.T) {
	assert.True(t, Concurrency("lock_error", nil).Retryable)
	assert.True(t, TransientInfra("timeout", nil).Retryable)
	assert.True(t, RateLimit("429", nil).Retryable)
	assert.False(t, Invariant("invalid_data", nil).Retryable)
	assert.False(t, OnChainRevert("reverted", nil).Retryable)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	ce := New(KindTransientInfra, "x", true, cause)
	unwrapped := errors.Unwrap(ce)
	assert.Error(t, unwrapped)
	assert.Contains(t, unwrapped.Error(), "underlying")
}
