package domain

import (
	"errors"
	"fmt"
)

// Kind groups escrow failures so transports can map them without knowing every code.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindAuthorization Kind = "authorization"
	KindArithmetic    Kind = "arithmetic"
	KindTransfer      Kind = "transfer"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Error is a named, classified failure. Sentinels are compared with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrFeeTooHigh      = newError(KindValidation, "fee_too_high", "fee rate exceeds 1000 bps")
	ErrOrderIDTooLong  = newError(KindValidation, "order_id_too_long", "order id exceeds 32 bytes")
	ErrInvalidOrderID  = newError(KindValidation, "invalid_order_id", "order id must be non-empty utf-8")
	ErrInvalidAmount   = newError(KindValidation, "invalid_amount", "amount must be greater than zero")
	ErrInvalidIdentity = newError(KindValidation, "invalid_identity", "identity is required")
	ErrInvalidFilter   = newError(KindValidation, "invalid_filter", "unknown filter value")
	ErrInvalidPayload  = newError(KindValidation, "invalid_payload", "malformed request payload")

	ErrInvalidStatus = newError(KindState, "invalid_status", "invalid escrow status for this operation")

	ErrUnauthorized        = newError(KindAuthorization, "unauthorized", "caller is not authorized for this operation")
	ErrDestinationMismatch = newError(KindAuthorization, "destination_mismatch", "destination does not match the configured destination")

	ErrOverflow = newError(KindArithmetic, "overflow", "arithmetic overflow")

	ErrInsufficientFunds = newError(KindTransfer, "insufficient_funds", "insufficient funds")
	ErrCurrencyMismatch  = newError(KindTransfer, "currency_mismatch", "currency mismatch between accounts")
	ErrHoldingAuthority  = newError(KindTransfer, "invalid_authority", "authority does not control the source account")
	ErrInvalidTransfer   = newError(KindTransfer, "invalid_transfer", "transfer must move a positive amount between two accounts")

	ErrAlreadyInitialized = newError(KindConflict, "already_initialized", "escrow config already initialized")
	ErrAlreadyExists      = newError(KindConflict, "already_exists", "escrow already exists for this order and buyer")

	ErrNotInitialized  = newError(KindNotFound, "not_initialized", "escrow config not initialized")
	ErrEscrowNotFound  = newError(KindNotFound, "escrow_not_found", "escrow not found")
	ErrAccountNotFound = newError(KindNotFound, "account_not_found", "account not found")
)

// TransferError carries a failure raised by the ledger verbatim.
type TransferError struct {
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %v", e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// KindOf classifies err. A TransferError wins over the named error it wraps, so a
// missing account is a transfer failure inside the ledger and not found elsewhere.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		return KindTransfer
	}
	var named *Error
	if errors.As(err, &named) {
		return named.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of the first named error in err's chain.
func CodeOf(err error) string {
	var named *Error
	if errors.As(err, &named) {
		return named.Code
	}
	if KindOf(err) == KindTransfer {
		return "transfer_failed"
	}
	return "internal"
}
