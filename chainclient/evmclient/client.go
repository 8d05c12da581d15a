// Package evmclient implements the EVM-style chain adapter named in
// SPEC_FULL.md §4.8: eth_blockNumber, eth_getTransactionReceipt,
// eth_gasPrice, eth_getLogs, over the generic chainclient.Caller so
// production wiring can plug in any go-ethereum-compatible client
// without this module depending on a concrete chain SDK.
package evmclient

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/shiftvault/custodycore/chainclient"
)

const (
	maxAttempts = 4
	backoffBase = 200 * time.Millisecond
	backoffCap  = 5 * time.Second
)

type Client struct {
	caller chainclient.Caller
}

func New(caller chainclient.Caller) *Client {
	return &Client{caller: caller}
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

func hexToUint64(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty hex quantity")
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

func (c *Client) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.call(ctx, &hex, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return hexToUint64(hex)
}

func (c *Client) GasPrice(ctx context.Context) (string, error) {
	var hex string
	if err := c.call(ctx, &hex, "eth_gasPrice"); err != nil {
		return "", err
	}
	n, ok := new(big.Int).SetString(strings.TrimPrefix(hex, "0x"), 16)
	if !ok {
		return "", errors.Errorf("invalid gas price hex %q", hex)
	}
	return n.String(), nil
}

type evmReceipt struct {
	BlockNumber string `json:"blockNumber"`
	Status      string `json:"status"`
	GasUsed     string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*chainclient.Receipt, error) {
	var raw *evmReceipt
	if err := c.call(ctx, &raw, "eth_getTransactionReceipt", txHash); err != nil {
		return nil, err
	}
	if raw == nil || raw.BlockNumber == "" {
		// Not yet mined: §4.6 step 3 treats this as "leave row unchanged".
		return &chainclient.Receipt{}, nil
	}
	bn, err := hexToUint64(raw.BlockNumber)
	if err != nil {
		return nil, errors.Wrap(err, "parse receipt block number")
	}
	status, err := hexToUint64(raw.Status)
	if err != nil {
		return nil, errors.Wrap(err, "parse receipt status")
	}
	r := &chainclient.Receipt{BlockNumber: &bn, Status: &status, GasUsed: raw.GasUsed, GasPrice: raw.EffectiveGasPrice}
	return r, nil
}

// GetLogs is provided for completeness of the §6.4 adapter contract; the
// out-of-scope deposit scanner is the only intended caller.
func (c *Client) GetLogs(ctx context.Context, address string, fromBlock, toBlock uint64, topics []string) ([]map[string]interface{}, error) {
	var logs []map[string]interface{}
	params := map[string]interface{}{
		"address":   address,
		"fromBlock": "0x" + strconv.FormatUint(fromBlock, 16),
		"toBlock":   "0x" + strconv.FormatUint(toBlock, 16),
		"topics":    topics,
	}
	if err := c.call(ctx, &logs, "eth_getLogs", params); err != nil {
		return nil, err
	}
	return logs, nil
}
