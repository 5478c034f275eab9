package agent

import (
	"errors"
	"fmt"
)

// ProtocolViolationError reports a structured agent result that breaks a
// stated invariant. These are always fatal to the invocation and escalated
// to the caller; the adapter never auto-corrects them.
type ProtocolViolationError struct {
	// Code identifies the violated invariant.
	Code ViolationCode

	// Message is a human-readable description.
	Message string

	// Field names the offending field, when one field is responsible.
	Field string
}

// ViolationCode categorizes protocol violations.
type ViolationCode string

const (
	// ErrCodeMissingCommit indicates a "complete" status that signals phase
	// completion without a commit reference.
	ErrCodeMissingCommit ViolationCode = "MISSING_COMMIT"

	// ErrCodeMissingReason indicates a non-complete status with no reason.
	ErrCodeMissingReason ViolationCode = "MISSING_REASON"

	// ErrCodeEmptyItems indicates a non-ready verdict with no items.
	ErrCodeEmptyItems ViolationCode = "EMPTY_ITEMS"

	// ErrCodeBadEnum indicates a status, verdict, or item action outside the
	// allowed value set.
	ErrCodeBadEnum ViolationCode = "BAD_ENUM"

	// ErrCodeWrongShape indicates a signal of the wrong type for the
	// invocation (a verdict where a status was required, or vice versa).
	ErrCodeWrongShape ViolationCode = "WRONG_SHAPE"
)

// Error implements the error interface.
func (e *ProtocolViolationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsProtocolViolation returns true if the error is a protocol violation.
// Uses errors.As to handle wrapped errors.
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolationError
	return errors.As(err, &pv)
}

// TransportError reports a failure to run the agent at all: the process
// could not be spawned or its streams could not be wired. Runtime failures
// after a successful spawn (non-zero exit, timeout, agent-reported errors)
// are mapped to a failed Result instead.
type TransportError struct {
	// Op is the operation that failed ("spawn", "stdin", "log").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("agent %s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport returns true if the error is a transport error.
// Uses errors.As to handle wrapped errors.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
