package accountclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	apply func(result interface{})
	err   error
}

func (f *fakeCaller) CallContext(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.apply(result)
	return nil
}

func TestCurrentBlockNumber(t *testing.T) {
	c := New(&fakeCaller{apply: func(result interface{}) {
		resp := result.(*nowBlockResponse)
		resp.BlockHeader.RawData.Number = 42
	}}, DefaultMethods())
	n, err := c.CurrentBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
}

func TestGasPrice_NoMethodConfigured(t *testing.T) {
	c := New(&fakeCaller{}, Methods{GetNowBlock: "getNowBlock"})
	price, err := c.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0", price)
}

func TestGasPrice_MethodConfigured(t *testing.T) {
	c := New(&fakeCaller{apply: func(result interface{}) {
		*result.(*string) = "100"
	}}, Methods{GetGasPrice: "getGasPrice"})
	price, err := c.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "100", price)
}

func TestTransactionReceipt_NotMined(t *testing.T) {
	c := New(&fakeCaller{apply: func(result interface{}) {}}, DefaultMethods())
	r, err := c.TransactionReceipt(context.Background(), "tx1")
	require.NoError(t, err)
	assert.Nil(t, r.BlockNumber)
}

func TestTransactionReceipt_Mined(t *testing.T) {
	c := New(&fakeCaller{apply: func(result interface{}) {
		resp := result.(*txInfoResponse)
		resp.BlockNumber = 7
		resp.Receipt.Result = "SUCCESS"
		resp.Fee = 1000
	}}, DefaultMethods())
	r, err := c.TransactionReceipt(context.Background(), "tx1")
	require.NoError(t, err)
	require.NotNil(t, r.BlockNumber)
	assert.Equal(t, uint64(7), *r.BlockNumber)
	assert.Equal(t, "SUCCESS", r.Result)
	assert.Equal(t, "1000", r.Fee)
}
