// Package chainclient defines the opaque chain-RPC adapter contract
// (§6.4) and a shared JSON-RPC Caller interface, grounded on this
// project's bridge client pattern of a thin per-method wrapper calling
// through a single CallContext(ctx, &result, method, params...) method.
// The JSON-RPC envelope itself is hand-rolled on encoding/json and
// net/http rather than reusing this project's own RPC client package,
// because that package belongs to the chain-RPC internals this spec
// places out of scope (§1) — see DESIGN.md for the full justification.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Caller is the minimal JSON-RPC transport every chain adapter calls
// through, mirroring ec.c.CallContext(ctx, &result, method, args...) in
// shape.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, params ...interface{}) error
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// HTTPCaller is a bare JSON-RPC-over-HTTP Caller, the default transport
// for both evmclient and accountclient.
type HTTPCaller struct {
	URL    string
	Client *http.Client
	nextID int64
}

// NewHTTPCaller builds a Caller with a bounded per-call timeout client.
func NewHTTPCaller(url string) *HTTPCaller {
	return &HTTPCaller{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

// RateLimitCode is the provider rate-limit JSON-RPC error code called out
// in §6.4.
const RateLimitCode = -32005

// ErrRateLimited signals the caller should apply extended backoff.
var ErrRateLimited = errors.New("chain rpc: provider rate limit")

func (h *HTTPCaller) CallContext(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	h.nextID++
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: h.nextID, Method: method, Params: params})
	if err != nil {
		return errors.Wrap(err, "marshal rpc request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrap(err, "build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "rpc transport")
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return errors.Wrap(err, "decode rpc response")
	}
	if out.Error != nil {
		if out.Error.Code == RateLimitCode {
			return ErrRateLimited
		}
		return fmt.Errorf("rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(out.Result, result)
}

// Backoff computes bounded exponential backoff, extended on rate limit,
// shared by every chain adapter and kept separate from queue.Backoff
// (same shape, different call sites) so RPC retry tuning can move
// independently of job-queue retry tuning.
func Backoff(attempt int, base, cap time.Duration, rateLimited bool) time.Duration {
	d := base * time.Duration(math.Pow(2, float64(attempt)))
	if rateLimited {
		d *= 3
	}
	if d > cap || d <= 0 {
		return cap
	}
	return d
}

// Receipt is the chain-agnostic transaction outcome every confirm stage
// consumes (§6.4 getTransactionReceipt shape, normalized across EVM and
// account-model chains).
type Receipt struct {
	BlockNumber *uint64
	Status      *uint64 // EVM: 1 success, 0 revert
	Result      string  // account-model: empty/"SUCCESS" means success
	GasUsed     string
	GasPrice    string
	Fee         string
}

// Success reports whether the receipt indicates a successful transaction,
// per §4.6 step 5 (EVM: status==1; account-model: result empty or
// "SUCCESS").
func (r Receipt) Success(accountModel bool) bool {
	if accountModel {
		return r.Result == "" || r.Result == "SUCCESS"
	}
	return r.Status != nil && *r.Status == 1
}

// ChainAdapter is the opaque per-chain client contract from §6.4.
type ChainAdapter interface {
	CurrentBlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
	GasPrice(ctx context.Context) (string, error)
}
