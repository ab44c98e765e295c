package apperr

import (
	"errors"
	"fmt"

	"github.com/relaydb/relay/pkg/types"
)

// Code classifies an error the way the façade and the client protocol
// need to: client-fixable vs. retryable vs. internal.
type Code string

const (
	BadRequest        Code = "bad_request"
	NotFound          Code = "not_found"
	Unauthenticated   Code = "unauthenticated"
	Forbidden         Code = "forbidden"
	Conflict          Code = "conflict"
	RateLimited       Code = "rate_limited"
	QuotaExceeded     Code = "quota_exceeded"
	Timeout           Code = "timeout"
	BackendUnavailable Code = "backend_unavailable"
	DeveloperError    Code = "developer_error"
	RetentionExpired  Code = "retention_expired"
	System            Code = "system"
)

// Error is the concrete error type every engine returns. Code classifies
// it; Payload carries the structured value a guest function threw, for
// DeveloperError only.
type Error struct {
	Code    Code
	Message string
	Payload *types.Value
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error with no wrapped cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that wraps cause, preserving errors.Is/As
// through to it.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithPayload attaches a developer error value payload and returns the
// same *Error for chaining.
func (e *Error) WithPayload(v types.Value) *Error {
	e.Payload = &v
	return e
}

// CodeOf extracts the Code from err, defaulting to System if err does not
// wrap an *Error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return System
}

// Retryable reports whether the façade should retry the call locally
// rather than surface the error to the client.
func Retryable(err error) bool {
	return CodeOf(err) == System
}

// Redact strips internal detail from System errors before they cross the
// client boundary; every other code is passed through unchanged since it
// is already client-safe by construction.
func Redact(err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) == System {
		return New(System, "internal error")
	}
	return err
}
