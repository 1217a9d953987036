// Package coordinatorerrors defines the error taxonomy shared by every
// Swap Coordinator component. Every fallible operation in the coordinator
// returns one of these kinds (wrapped with context via fmt.Errorf/%w) so
// that callers can branch on errors.As instead of string matching.
package coordinatorerrors

import (
	"errors"
	"fmt"
)

// Kind identifies which taxonomy bucket an error belongs to.
type Kind string

const (
	// KindValidation covers malformed input, bad signatures, wrong nonces,
	// expired deadlines. Returned to the caller; no state change occurs.
	KindValidation Kind = "validation"

	// KindInsufficientLiquidity covers a refused reservation.
	KindInsufficientLiquidity Kind = "insufficient_liquidity"

	// KindChainTransient covers RPC timeouts, rate limits, and
	// replacement-underpriced errors. Retried with backoff; never
	// surfaced to a caller after a successful retry.
	KindChainTransient Kind = "chain_transient"

	// KindChainReverted covers a deterministic contract revert.
	// Surfaced; transitions the owning swap or claim to FAILED.
	KindChainReverted Kind = "chain_reverted"

	// KindInvariantViolation covers data corruption such as
	// total != reserved + available. Fatal: the owning component must
	// stop processing and raise an alert.
	KindInvariantViolation Kind = "invariant_violation"

	// KindEmergencyStop covers relayer balance below threshold.
	// Processing pauses; in-flight claims are allowed to confirm.
	KindEmergencyStop Kind = "emergency_stop"
)

// CoordinatorError is the concrete error type carried through the system.
// Reason is a short machine-readable slug (e.g. "nonce_reused") used in
// tests and user-facing categorical messages; Message is human-readable.
type CoordinatorError struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *CoordinatorError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoordinatorError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &CoordinatorError{Kind: k}) match any
// CoordinatorError of Kind k; a target with a non-empty Reason also
// requires the same Reason.
func (e *CoordinatorError) Is(target error) bool {
	var ce *CoordinatorError
	if errors.As(target, &ce) {
		return ce.Kind == e.Kind && (ce.Reason == "" || ce.Reason == e.Reason)
	}
	return false
}

func newErr(kind Kind, reason, message string, err error) *CoordinatorError {
	return &CoordinatorError{Kind: kind, Reason: reason, Message: message, Err: err}
}

// Validation builds a KindValidation error.
func Validation(reason, message string) *CoordinatorError {
	return newErr(KindValidation, reason, message, nil)
}

// Validationf builds a KindValidation error wrapping an underlying cause.
func Validationf(reason string, err error, format string, args ...any) *CoordinatorError {
	return newErr(KindValidation, reason, fmt.Sprintf(format, args...), err)
}

// InsufficientLiquidity builds a KindInsufficientLiquidity error.
func InsufficientLiquidity(chain, token string, requested, available uint64) *CoordinatorError {
	return newErr(KindInsufficientLiquidity, "insufficient_liquidity",
		fmt.Sprintf("requested %d of %s/%s, only %d available", requested, chain, token, available), nil)
}

// Unhealthy builds a KindInsufficientLiquidity error for a below-threshold pool.
func Unhealthy(chain, token string) *CoordinatorError {
	return newErr(KindInsufficientLiquidity, "unhealthy",
		fmt.Sprintf("%s/%s liquidity below minimum threshold", chain, token), nil)
}

// ChainTransient builds a KindChainTransient error.
func ChainTransient(reason string, err error) *CoordinatorError {
	return newErr(KindChainTransient, reason, "transient chain error", err)
}

// ChainReverted builds a KindChainReverted error.
func ChainReverted(reason, message string) *CoordinatorError {
	return newErr(KindChainReverted, reason, message, nil)
}

// InvariantViolation builds a KindInvariantViolation error. Components must
// treat this as fatal: stop processing further swaps on the affected path
// and surface an alert through the logger.
func InvariantViolation(reason, message string) *CoordinatorError {
	return newErr(KindInvariantViolation, reason, message, nil)
}

// EmergencyStop builds a KindEmergencyStop error.
func EmergencyStop(message string) *CoordinatorError {
	return newErr(KindEmergencyStop, "emergency_stop", message, nil)
}

// KindOf extracts the Kind of err, if it is (or wraps) a CoordinatorError.
func KindOf(err error) (Kind, bool) {
	var ce *CoordinatorError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// ReasonOf extracts the Reason slug of err, if any.
func ReasonOf(err error) string {
	var ce *CoordinatorError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// IsKind reports whether err is (or wraps) a CoordinatorError of kind k.
func IsKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
