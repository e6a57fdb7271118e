package model

import "fmt"

// ErrorKind enumerates the typed error surface of §7. Every failure the core
// returns to a caller carries one of these; there is no panic-based control
// flow anywhere in this package tree.
type ErrorKind string

const (
	ErrValidationFailed    ErrorKind = "VALIDATION_FAILED"
	ErrRateLimited         ErrorKind = "RATE_LIMITED"
	ErrClientBlocked       ErrorKind = "CLIENT_BLOCKED"
	ErrProcessingTimeout   ErrorKind = "PROCESSING_TIMEOUT"
	ErrQueueBackpressure   ErrorKind = "QUEUE_BACKPRESSURE"
	ErrLimitExceeded       ErrorKind = "LIMIT_EXCEEDED"
	ErrConflictManualReq   ErrorKind = "CONFLICT_MANUAL_REQUIRED"
	ErrTransactionInvalid  ErrorKind = "TRANSACTION_INVALID"
	ErrCancelled           ErrorKind = "CANCELLED"
	ErrUnknown             ErrorKind = "UNKNOWN"
)

// CoreError is the single tagged error type the core ever returns. Field is
// only meaningful for VALIDATION_FAILED; the rest borrow whichever of
// RetryAfterMs / ConflictID / Reason their kind documents (CLIENT_BLOCKED
// carries its block-until time in RetryAfterMs).
type CoreError struct {
	Kind         ErrorKind
	Field        string
	Code         string
	Message      string
	RetryAfterMs int64
	Severity     string
	ConflictID   string
	Reason       string
	Cause        error
}

func (e *CoreError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Is lets callers do errors.Is(err, &model.CoreError{Kind: model.ErrValidationFailed})
// style checks: any *CoreError target with the same Kind matches.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewValidationError(field, code, message string) *CoreError {
	return &CoreError{Kind: ErrValidationFailed, Field: field, Code: code, Message: message}
}

func NewRateLimited(retryAfterMs int64, severity string) *CoreError {
	return &CoreError{Kind: ErrRateLimited, RetryAfterMs: retryAfterMs, Severity: severity,
		Message: "rate limit exceeded"}
}

func NewClientBlocked(untilUnixMs int64) *CoreError {
	return &CoreError{Kind: ErrClientBlocked, RetryAfterMs: untilUnixMs,
		Message: "client blocked for abuse"}
}

func NewProcessingTimeout() *CoreError {
	return &CoreError{Kind: ErrProcessingTimeout, Message: "processing budget exceeded"}
}

func NewQueueBackpressure() *CoreError {
	return &CoreError{Kind: ErrQueueBackpressure, Message: "queue saturated, work dropped"}
}

func NewLimitExceeded(kind string) *CoreError {
	return &CoreError{Kind: ErrLimitExceeded, Reason: kind, Message: "limit exceeded: " + kind}
}

func NewConflictManualRequired(conflictID string) *CoreError {
	return &CoreError{Kind: ErrConflictManualReq, ConflictID: conflictID,
		Message: "conflict requires manual resolution"}
}

func NewTransactionInvalid(reason string) *CoreError {
	return &CoreError{Kind: ErrTransactionInvalid, Reason: reason, Message: reason}
}

func NewCancelled() *CoreError {
	return &CoreError{Kind: ErrCancelled, Message: "operation cancelled"}
}

func Wrap(err error) *CoreError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CoreError); ok {
		return ce
	}
	return &CoreError{Kind: ErrUnknown, Message: err.Error(), Cause: err}
}
