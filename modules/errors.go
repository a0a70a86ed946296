package modules

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrNonceOverflow        = errors.New("nonce overflow")
	ErrTickerInitialized    = errors.New("token already initialized")
	ErrTickerNotInitialized = errors.New("token not initialized")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrBalanceOverflow      = errors.New("balance overflow")
	ErrHashMismatch         = errors.New("transaction hash mismatch")
	ErrBadSignature         = errors.New("invalid signature")
	ErrCorruptState         = errors.New("corrupt ledger state")
)

// ValidityError means a transaction is well formed but not applicable to
// the current state.
type ValidityError struct {
	Err    error
	Detail string
}

func (e *ValidityError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *ValidityError) Unwrap() error { return e.Err }

func invalid(err error, format string, args ...interface{}) error {
	return &ValidityError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

// SignatureError covers a wrong content hash as well as a signature that
// does not recover to the sender.
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string { return e.Err.Error() }
func (e *SignatureError) Unwrap() error { return e.Err }
