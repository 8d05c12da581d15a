// Package signer implements the uniform HTTP call contract to the remote
// signer (C4): request/response shape, alias handling for the tx hash
// field, timeout, and the error taxonomy from §4.4. Transport is
// valyala/fasthttp, the one teacher dependency with no other natural
// home in this module. Every call is tagged with a satori/go.uuid
// request id so a signer-side log line can be correlated with a
// core-side retry sequence, and a best-effort go-redis SETNX hint flags
// (never gates on) suspected duplicate broadcasts, per OQ-1.
package signer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/valyala/fasthttp"

	applog "github.com/shiftvault/custodycore/log"
)

var logger = applog.NewModuleLogger(applog.Signer)

const (
	callTimeout   = 15 * time.Second
	healthTimeout = 5 * time.Second
	// defaultMaxResponseBody bounds the signer response reader when the
	// caller doesn't override it via New; a misbehaving or compromised
	// signer endpoint should never be allowed to stream an unbounded body
	// into process memory. config.Tunables.SignerMaxResponseBodyBytes is
	// the normal source of this value, parsed with alecthomas/units.
	defaultMaxResponseBody = 1 << 20 // 1 MiB
)

// ErrorCode is the signer's structured error code.
type ErrorCode string

const (
	Unauthorized     ErrorCode = "UNAUTHORIZED"
	VaultUnavailable ErrorCode = "VAULT_UNAVAILABLE"
	DerivationFailed ErrorCode = "DERIVATION_FAILED"
	SigningFailed    ErrorCode = "SIGNING_FAILED"
	NetworkError     ErrorCode = "NETWORK_ERROR"
)

// SignerError is the classified error returned by every Client method.
type SignerError struct {
	Code      ErrorCode
	Retryable bool
	ErrorType string
	Message   string
}

func (e *SignerError) Error() string { return string(e.Code) + ": " + e.Message }

func classify(code ErrorCode, httpStatus int, msg string) *SignerError {
	switch {
	case code == Unauthorized || httpStatus == 401:
		return &SignerError{Code: Unauthorized, Retryable: false, ErrorType: "auth", Message: msg}
	case code == VaultUnavailable:
		return &SignerError{Code: VaultUnavailable, Retryable: true, ErrorType: "vault", Message: msg}
	case code == DerivationFailed:
		return &SignerError{Code: DerivationFailed, Retryable: false, ErrorType: "derivation", Message: msg}
	case code == SigningFailed:
		return &SignerError{Code: SigningFailed, Retryable: true, ErrorType: "signing", Message: msg}
	default:
		return &SignerError{Code: NetworkError, Retryable: true, ErrorType: "network", Message: msg}
	}
}

// TxIntent is the abstract transfer description passed to the signer,
// independent of chain-specific transaction encoding (§4.4).
type TxIntent struct {
	Kind            string `json:"kind"` // native_transfer | erc20_transfer | send_<native> | <token_standard>_transfer
	From            string `json:"from"`
	To              string `json:"to"`
	Amount          string `json:"amount"`
	ContractAddress string `json:"contractAddress,omitempty"`
	GasLimit        string `json:"gasLimit,omitempty"`
	FeeCap          string `json:"feeCap,omitempty"`
}

type signRequest struct {
	Chain           string   `json:"chain"`
	WalletGroupID   string   `json:"wallet_group_id"`
	DerivationIndex int64    `json:"derivation_index"`
	TxIntent        TxIntent `json:"tx_intent"`
}

// rawResponse accepts every alias the adapter must normalize to tx_hash.
type rawResponse struct {
	TxHash          string    `json:"tx_hash"`
	TxHashAlt       string    `json:"txHash"`
	TransactionHash string    `json:"transactionHash"`
	TxID            string    `json:"tx_id"`
	TxIDLower       string    `json:"txid"`
	ErrorCode       ErrorCode `json:"errorCode"`
	Message         string    `json:"message"`
}

func (r rawResponse) resolveTxHash() (string, bool) {
	for _, v := range []string{r.TxHash, r.TxHashAlt, r.TransactionHash, r.TxID, r.TxIDLower} {
		if v != "" {
			return v, true
		}
	}
	return "", false
}

// Client is the adapter every execute stage calls through.
type Client struct {
	baseURL string
	apiKey  string
	serviceID string
	http    *fasthttp.Client
	redis   *redis.Client // optional; nil disables the dedup hint
}

// New constructs a Client. redisClient may be nil. maxResponseBodyBytes,
// when <= 0, falls back to defaultMaxResponseBody.
func New(baseURL, apiKey, serviceID string, redisClient *redis.Client, maxResponseBodyBytes int) *Client {
	if maxResponseBodyBytes <= 0 {
		maxResponseBodyBytes = defaultMaxResponseBody
	}
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		serviceID: serviceID,
		http:      &fasthttp.Client{MaxResponseBodySize: maxResponseBodyBytes},
		redis:     redisClient,
	}
}

// Sign calls the signer and returns the normalized tx_hash, or a
// *SignerError. dedupKey, when non-empty, is used for the Redis SETNX
// broadcast hint described in SPEC_FULL.md §4.4.
func (c *Client) Sign(ctx context.Context, chain, walletGroupID string, derivationIndex int64, intent TxIntent, dedupKey string) (string, error) {
	reqID := uuid.NewV4().String()

	if dedupKey != "" && c.redis != nil {
		set, err := c.redis.SetNX(dedupKey, reqID, callTimeout).Result()
		if err != nil {
			logger.Warn("redis dedup hint unavailable, proceeding", "err", err, "request_id", reqID)
		} else if !set {
			logger.Warn("possible_duplicate_broadcast", "dedup_key", dedupKey, "request_id", reqID)
		}
	}

	body, err := json.Marshal(signRequest{
		Chain:           chain,
		WalletGroupID:   walletGroupID,
		DerivationIndex: derivationIndex,
		TxIntent:        intent,
	})
	if err != nil {
		return "", classify(NetworkError, 0, errors.Wrap(err, "marshal sign request").Error())
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/sign")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Service-Identity", c.serviceID)
	req.Header.Set("X-Request-Id", reqID)
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(callTimeout)
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		logger.Warn("signer call failed", "err", err, "request_id", reqID)
		return "", classify(NetworkError, 0, err.Error())
	}

	var out rawResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", classify(NetworkError, resp.StatusCode(), "invalid signer response body")
	}
	if resp.StatusCode() >= 300 || out.ErrorCode != "" {
		return "", classify(out.ErrorCode, resp.StatusCode(), out.Message)
	}
	txHash, ok := out.resolveTxHash()
	if !ok {
		return "", classify(NetworkError, resp.StatusCode(), "signer response missing a recognized tx hash field")
	}
	return txHash, nil
}

// Healthy performs a lightweight health probe against the signer.
func (c *Client) Healthy(ctx context.Context) bool {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/health")
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(healthTimeout)
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return false
	}
	return resp.StatusCode() == fasthttp.StatusOK
}
