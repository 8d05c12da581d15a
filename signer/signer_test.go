package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Unauthorized(t *testing.T) {
	e := classify("", 401, "bad token")
	assert.Equal(t, Unauthorized, e.Code)
	assert.False(t, e.Retryable)
	assert.Equal(t, "auth", e.ErrorType)

	e = classify(Unauthorized, 200, "bad token")
	assert.Equal(t, Unauthorized, e.Code)
	assert.False(t, e.Retryable)
}

func TestClassify_VaultUnavailable(t *testing.T) {
	e := classify(VaultUnavailable, 503, "vault sealed")
	assert.Equal(t, VaultUnavailable, e.Code)
	assert.True(t, e.Retryable)
	assert.Equal(t, "vault", e.ErrorType)
}

func TestClassify_DerivationFailed(t *testing.T) {
	e := classify(DerivationFailed, 400, "bad index")
	assert.Equal(t, DerivationFailed, e.Code)
	assert.False(t, e.Retryable)
}

func TestClassify_SigningFailed(t *testing.T) {
	e := classify(SigningFailed, 500, "hsm error")
	assert.Equal(t, SigningFailed, e.Code)
	assert.True(t, e.Retryable)
}

func TestClassify_DefaultsToNetworkError(t *testing.T) {
	e := classify("", 0, "connection refused")
	assert.Equal(t, NetworkError, e.Code)
	assert.True(t, e.Retryable)
	assert.Equal(t, "network", e.ErrorType)
}

func TestSignerError_Error(t *testing.T) {
	e := &SignerError{Code: SigningFailed, Message: "hsm error"}
	assert.Equal(t, "SIGNING_FAILED: hsm error", e.Error())
}

func TestResolveTxHash_PrefersTxHash(t *testing.T) {
	r := rawResponse{TxHash: "0xabc", TxHashAlt: "0xdef"}
	hash, ok := r.resolveTxHash()
	assert.True(t, ok)
	assert.Equal(t, "0xabc", hash)
}

func TestResolveTxHash_FallsThroughAliases(t *testing.T) {
	r := rawResponse{TransactionHash: "0x123"}
	hash, ok := r.resolveTxHash()
	assert.True(t, ok)
	assert.Equal(t, "0x123", hash)

	r = rawResponse{TxID: "txid-1"}
	hash, ok = r.resolveTxHash()
	assert.True(t, ok)
	assert.Equal(t, "txid-1", hash)

	r = rawResponse{TxIDLower: "txid-2"}
	hash, ok = r.resolveTxHash()
	assert.True(t, ok)
	assert.Equal(t, "txid-2", hash)
}

func TestResolveTxHash_None(t *testing.T) {
	r := rawResponse{Message: "pending"}
	_, ok := r.resolveTxHash()
	assert.False(t, ok)
}
