package app

import (
	"errors"
	"fmt"
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrNoCommitment      = errors.New("enforcer returned no commitment")
	ErrUnknownEnforcer   = errors.New("leader has no registered endpoint")
	ErrUnknownRollup     = errors.New("unknown rollup contract")
	ErrDuplicateRequest  = errors.New("transaction already submitted")
	ErrInvalidChallenge  = errors.New("unknown or expired challenge")
	ErrInvalidMetadata   = errors.New("invalid enforcer metadata")
	ErrAlreadyRegistered = errors.New("enforcer already registered")
)

// UpstreamError wraps a failure of a collaborator reached over the network:
// the election oracle, an enforcer, the settlement chain or the database.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

func upstream(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}
