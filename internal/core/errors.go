package core

import (
	"errors"
	"fmt"
)

// Error codes for client-side failures.
const (
	ErrCodeTransport   = "transport"
	ErrCodeUnreachable = "unreachable"
	ErrCodeProtocol    = "protocol"
	ErrCodeSession     = "session"
	ErrCodeREST        = "rest"
	ErrCodeNotFound    = "not_found"
	ErrCodeStorage     = "storage"
)

// Error wraps a code and human-readable message.
type Error struct {
	Code    string
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates an Error with the given code and message.
func NewError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// WrapError wraps err with a code and message.
func WrapError(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Wrapped: err}
}

// IsTransportError reports whether err came from the persistent connection.
func IsTransportError(err error) bool {
	return hasCode(err, ErrCodeTransport) || hasCode(err, ErrCodeUnreachable)
}

// IsSessionError reports whether err is a recoverable room authentication failure.
func IsSessionError(err error) bool {
	return hasCode(err, ErrCodeSession)
}

func hasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
