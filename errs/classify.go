// Package errs centralizes the cross-stage error classification every
// execute/confirm stage funnels through before deciding retry vs. fail,
// replacing the ad-hoc {isRetryable, errorType, errorCode} objects the
// upstream design describes with one sum-type-flavored struct.
package errs

import (
	"github.com/pkg/errors"
)

// Kind tags the broad category of a ClassifiedError, independent of its
// originating stage.
type Kind string

const (
	KindTransientInfra Kind = "transient_infra"
	KindRateLimit      Kind = "rate_limit"
	KindInvariant      Kind = "logical_invariant"
	KindOnChainRevert  Kind = "onchain_revert"
	KindConcurrency    Kind = "concurrency_defeat"
	KindSignerAuth     Kind = "signer_auth"
)

// ClassifiedError is the error type that crosses every stage boundary.
// Cause carries the original error, wrapped with pkg/errors so a stack
// trace survives into worker_execution_logs.message.
type ClassifiedError struct {
	Kind      Kind
	Code      string
	Retryable bool
	Cause     error
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return e.Code + ": " + e.Cause.Error()
	}
	return e.Code
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// New wraps cause with pkg/errors and classifies it.
func New(kind Kind, code string, retryable bool, cause error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Code: code, Retryable: retryable, Cause: errors.WithStack(cause)}
}

// Retryable reports whether err (a plain error or a *ClassifiedError)
// should be retried. Unclassified errors default to retryable, matching
// the "any other -> retryable (default unknown -> transient)" rule in the
// signer error taxonomy.
func Retryable(err error) bool {
	if ce, ok := err.(*ClassifiedError); ok {
		return ce.Retryable
	}
	return true
}

// Message renders a "[errorType] msg" string for storage in a queue row's
// error_message column.
func Message(err error) string {
	if ce, ok := err.(*ClassifiedError); ok {
		return "[" + string(ce.Kind) + "] " + ce.Error()
	}
	return "[unknown] " + err.Error()
}

// Invariant, OnChainRevert and Concurrency are convenience constructors
// for the classifications each stage raises directly (not via the signer
// adapter, which has its own taxonomy in the signer package).
func Invariant(code string, cause error) *ClassifiedError {
	return New(KindInvariant, code, false, cause)
}

func OnChainRevert(code string, cause error) *ClassifiedError {
	return New(KindOnChainRevert, code, false, cause)
}

func Concurrency(code string, cause error) *ClassifiedError {
	return New(KindConcurrency, code, true, cause)
}

func TransientInfra(code string, cause error) *ClassifiedError {
	return New(KindTransientInfra, code, true, cause)
}

func RateLimit(code string, cause error) *ClassifiedError {
	return New(KindRateLimit, code, true, cause)
}
