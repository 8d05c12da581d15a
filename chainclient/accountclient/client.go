// Package accountclient implements the account-model chain adapter
// (a Klaytn/TRON-style chain, per SPEC_FULL.md §4.8): method names are
// supplied by config rather than hardcoded, since account-model chain
// RPC surfaces vary more than EVM's across providers.
package accountclient

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/shiftvault/custodycore/chainclient"
)

const (
	maxAttempts = 4
	backoffBase = 200 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// Methods names the provider-specific RPC methods this adapter calls.
// Populated from per-chain config at construction time.
type Methods struct {
	GetNowBlock         string // e.g. "getNowBlock"
	GetTransactionInfo  string // e.g. "getTransactionInfo"
	GetGasPrice         string // optional; empty means GasPrice returns "0"
}

func DefaultMethods() Methods {
	return Methods{GetNowBlock: "getNowBlock", GetTransactionInfo: "getTransactionInfo"}
}

type Client struct {
	caller  chainclient.Caller
	methods Methods
}

func New(caller chainclient.Caller, methods Methods) *Client {
	return &Client{caller: caller, methods: methods}
}

// call drives CallContext with bounded retry and exponential backoff,
// extended on a provider rate-limit response, per §6.4.
func (c *Client) call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = c.caller.CallContext(ctx, result, method, params...)
		if err == nil {
			return nil
		}
		rateLimited := errors.Cause(err) == chainclient.ErrRateLimited
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(chainclient.Backoff(attempt, backoffBase, backoffCap, rateLimited)):
		}
	}
	return err
}

type blockHeader struct {
	Number uint64 `json:"number"`
}

type nowBlockResponse struct {
	BlockHeader struct {
		RawData blockHeader `json:"raw_data"`
	} `json:"block_header"`
}

func (c *Client) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	var resp nowBlockResponse
	if err := c.call(ctx, &resp, c.methods.GetNowBlock); err != nil {
		return 0, err
	}
	return resp.BlockHeader.RawData.Number, nil
}

func (c *Client) GasPrice(ctx context.Context) (string, error) {
	if c.methods.GetGasPrice == "" {
		return "0", nil
	}
	var hex string
	if err := c.call(ctx, &hex, c.methods.GetGasPrice); err != nil {
		return "", err
	}
	return hex, nil
}

type txInfoResponse struct {
	BlockNumber uint64 `json:"blockNumber"`
	Receipt     struct {
		Result string `json:"result"`
	} `json:"receipt"`
	Fee uint64 `json:"fee"`
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*chainclient.Receipt, error) {
	var resp txInfoResponse
	if err := c.call(ctx, &resp, c.methods.GetTransactionInfo, txHash); err != nil {
		return nil, err
	}
	if resp.BlockNumber == 0 {
		return &chainclient.Receipt{}, nil
	}
	bn := resp.BlockNumber
	return &chainclient.Receipt{
		BlockNumber: &bn,
		Result:      resp.Receipt.Result,
		Fee:         strconv.FormatUint(resp.Fee, 10),
	}, nil
}
