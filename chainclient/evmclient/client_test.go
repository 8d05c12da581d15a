package evmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	result interface{}
	err    error
}

func (f *fakeCaller) CallContext(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if f.err != nil {
		return f.err
	}
	switch out := result.(type) {
	case *string:
		*out = f.result.(string)
	case **evmReceipt:
		*out = f.result.(*evmReceipt)
	}
	return nil
}

func TestHexToUint64(t *testing.T) {
	n, err := hexToUint64("0x10")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), n)

	_, err = hexToUint64("")
	assert.Error(t, err)
}

func TestCurrentBlockNumber(t *testing.T) {
	c := New(&fakeCaller{result: "0x1a"})
	n, err := c.CurrentBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(26), n)
}

func TestGasPrice(t *testing.T) {
	c := New(&fakeCaller{result: "0x3b9aca00"})
	price, err := c.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000000000", price)
}

func TestTransactionReceipt_NotMined(t *testing.T) {
	c := New(&fakeCaller{result: (*evmReceipt)(nil)})
	r, err := c.TransactionReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Nil(t, r.BlockNumber)
}

func TestTransactionReceipt_Mined(t *testing.T) {
	c := New(&fakeCaller{result: &evmReceipt{BlockNumber: "0x5", Status: "0x1", GasUsed: "0x10", EffectiveGasPrice: "0x1"}})
	r, err := c.TransactionReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	require.NotNil(t, r.BlockNumber)
	assert.Equal(t, uint64(5), *r.BlockNumber)
	require.NotNil(t, r.Status)
	assert.Equal(t, uint64(1), *r.Status)
}
