package clpool

import (
	"errors"
	"fmt"
)

// Kind identifies a class of pool error, grouped the way spec.md §7
// groups them: input validation, invariant violations, and protocol
// (callback/reentrancy) failures.
type Kind string

const (
	ErrAlreadyInitialized Kind = "already_initialized"
	ErrTickMisordered     Kind = "tick_misordered"
	ErrTickOutOfRange     Kind = "tick_out_of_range"
	ErrTickNotSpaced      Kind = "tick_not_spaced"
	ErrZeroAmount         Kind = "zero_amount"
	ErrBadFeeProtocol     Kind = "bad_fee_protocol"
	ErrBadSqrtPriceLimit  Kind = "bad_sqrt_price_limit"

	ErrLiquidityOverflow   Kind = "liquidity_overflow"
	ErrMathOverflow        Kind = "math_overflow"
	ErrOracleOld           Kind = "oracle_old"
	ErrOracleUninitialized Kind = "oracle_uninitialized"

	ErrLocked              Kind = "locked"
	ErrInsufficientPayment Kind = "insufficient_payment"
	ErrUnauthorized        Kind = "unauthorized"
)

// PoolError is the single error type every pool operation returns.
// It carries a Kind so callers can branch with errors.Is against the
// sentinel values below, plus a formatted message for humans.
type PoolError struct {
	Kind Kind
	msg  string
	err  error
}

func (e *PoolError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *PoolError) Unwrap() error { return e.err }

// Is lets errors.Is(err, clpool.Sentinel(clpool.ErrLocked)) work directly
// against the Kind sentinels declared below, without requiring callers to
// type-assert.
func (e *PoolError) Is(target error) bool {
	var sentinel *sentinelError
	if errors.As(target, &sentinel) {
		return e.Kind == sentinel.kind
	}
	return false
}

type sentinelError struct{ kind Kind }

func (s *sentinelError) Error() string { return string(s.kind) }

// Sentinel returns a comparable error for Kind k, usable with errors.Is.
func Sentinel(k Kind) error { return &sentinelError{kind: k} }

func newErr(kind Kind, format string, args ...interface{}) *PoolError {
	return &PoolError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, err error, format string, args ...interface{}) *PoolError {
	return &PoolError{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}
