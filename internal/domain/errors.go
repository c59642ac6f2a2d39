// Package domain provides the shared types and canonical error kinds used by
// pipes, auth modules and the transport layer.
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of a failed operation.
type ErrorKind string

const (
	// KindNetwork indicates a transport failure (DNS, refused connection, reset).
	KindNetwork ErrorKind = "network"

	// KindTimeout indicates the configured interval elapsed with no response.
	KindTimeout ErrorKind = "timeout"

	// KindHTTPStatus indicates the server answered outside the 2xx range.
	KindHTTPStatus ErrorKind = "http_status"

	// KindParse indicates the response body was not valid JSON or not the
	// expected shape.
	KindParse ErrorKind = "parse"

	// KindValidation indicates a local precondition failed before any request
	// was sent.
	KindValidation ErrorKind = "validation"
)

// Kind sentinels, usable with errors.Is against any *Error.
var (
	ErrNetwork    = errors.New("network error")
	ErrTimeout    = errors.New("timeout")
	ErrHTTPStatus = errors.New("http status error")
	ErrParse      = errors.New("parse error")
	ErrValidation = errors.New("validation error")
)

// Detail sentinels wrapped by validation and parse errors.
var (
	ErrMissingRecordID  = errors.New("record id is missing")
	ErrPageInFlight     = errors.New("a paging request is already in flight")
	ErrInvalidAuthState = errors.New("operation not allowed in current auth state")
	ErrNoToken          = errors.New("no token in login response")
	ErrUnknownType      = errors.New("unknown implementation type")
)

// ErrCancelled is the transport's signal that an operation was cancelled by
// its owner. It is never delivered to a failure callback.
var ErrCancelled = errors.New("operation cancelled")

// Error is the failure value delivered to failure callbacks.
type Error struct {
	// Kind is the category of error
	Kind ErrorKind

	// Op is the operation that failed (e.g. "read", "save", "login")
	Op string

	// Message is the human-readable error message
	Message string

	// StatusCode is the HTTP status for KindHTTPStatus errors
	StatusCode int

	// Body is the raw response body, when one was received
	Body []byte

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel for this error as well as the wrapped chain.
func (e *Error) Is(target error) bool {
	return sentinelFor(e.Kind) == target
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindNetwork:
		return ErrNetwork
	case KindTimeout:
		return ErrTimeout
	case KindHTTPStatus:
		return ErrHTTPStatus
	case KindParse:
		return ErrParse
	case KindValidation:
		return ErrValidation
	default:
		return nil
	}
}

// NewError creates a new error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// WithOp sets the failing operation name.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithStatus sets the HTTP status code.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// WithBody attaches the raw response body.
func (e *Error) WithBody(body []byte) *Error {
	e.Body = body
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// Convenience constructors for each kind

// ErrNetworkFailure creates a network error wrapping the transport failure.
func ErrNetworkFailure(err error) *Error {
	return NewError(KindNetwork, "request failed").WithCause(err)
}

// ErrTimedOut creates a timeout error.
func ErrTimedOut(message string) *Error {
	return NewError(KindTimeout, message)
}

// ErrStatus creates an HTTP status error carrying the raw body.
func ErrStatus(code int, body []byte) *Error {
	return NewError(KindHTTPStatus, "unexpected response").
		WithStatus(code).
		WithBody(body)
}

// ErrParseFailure creates a parse error.
func ErrParseFailure(message string, err error) *Error {
	return NewError(KindParse, message).WithCause(err)
}

// ErrInvalid creates a validation error.
func ErrInvalid(message string, err error) *Error {
	return NewError(KindValidation, message).WithCause(err)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// TagOp sets op on the first *Error in err's chain when it has none yet.
func TagOp(err error, op string) error {
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		e.Op = op
	}
	return err
}
