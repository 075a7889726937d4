// Package errs defines the error type shared by the zcs packages.
//
// Every error carries a machine-readable Code so callers can branch on the
// failure class without string matching:
//
//	if errs.IsNotFound(err) { ... }
package errs

import (
	"errors"
	"fmt"
)

const (
	// ErrInit means the engine could not be initialized or was initialized twice.
	ErrInit = "init_error"
	// ErrNotStarted means an operation needs a lifecycle step that has not happened yet.
	ErrNotStarted = "not_started"
	// ErrNotFound means the named node is not in the registry.
	ErrNotFound = "not_found"
	// ErrMalformedMessage means a datagram could not be decoded.
	ErrMalformedMessage = "malformed_message"
	// ErrSendFailure means the transport refused an outgoing message.
	ErrSendFailure = "send_failure"
	// ErrInvalidArgument means the caller passed a value the protocol cannot carry.
	ErrInvalidArgument = "invalid_argument"
	// ErrFatal means a background task died and the engine cannot continue.
	ErrFatal = "fatal"
)

// Error is a zcs error.
type Error struct {
	// Code is a machine-readable code.
	Code string `json:"code,omitempty"`
	// Message is a human-readable message.
	Message string `json:"message"`
	// Inner is the wrapped cause, if any.
	Inner error `json:"-"`
}

// New creates a new Error.
func New(code, message string, inner error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Inner:   inner,
	}
}

func NewInit(message string, inner error) *Error {
	return New(ErrInit, message, inner)
}

func NewNotStarted(message string) *Error {
	return New(ErrNotStarted, message, nil)
}

func NewNotFound(message string) *Error {
	return New(ErrNotFound, message, nil)
}

func NewMalformed(message string, inner error) *Error {
	return New(ErrMalformedMessage, message, inner)
}

func NewSendFailure(message string, inner error) *Error {
	return New(ErrSendFailure, message, inner)
}

func NewInvalidArgument(message string) *Error {
	return New(ErrInvalidArgument, message, nil)
}

func NewFatal(message string, inner error) *Error {
	return New(ErrFatal, message, inner)
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s %s: %v", e.Code, e.Message, e.Inner)
	}
	return fmt.Sprintf("%s %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches any *Error with the same Code, so errors.Is(err,
// errs.NewNotFound("")) works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Code returns the code of err, or "" if err is not a zcs error.
func Code(err error) string {
	if e := As(err); e != nil {
		return e.Code
	}
	return ""
}

// Is reports whether err is a zcs error with the given code.
func Is(err error, code string) bool {
	return Code(err) == code && code != ""
}

func IsInit(err error) bool            { return Is(err, ErrInit) }
func IsNotStarted(err error) bool      { return Is(err, ErrNotStarted) }
func IsNotFound(err error) bool        { return Is(err, ErrNotFound) }
func IsMalformed(err error) bool       { return Is(err, ErrMalformedMessage) }
func IsSendFailure(err error) bool     { return Is(err, ErrSendFailure) }
func IsInvalidArgument(err error) bool { return Is(err, ErrInvalidArgument) }
func IsFatal(err error) bool           { return Is(err, ErrFatal) }
