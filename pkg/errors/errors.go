// Package errors provides typed application errors shared by the repository,
// service and transport layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping
type Code string

const (
	ErrCodeValidation      Code = "VALIDATION_ERROR"
	ErrCodeConflict        Code = "CONFLICT"
	ErrCodeNotFound        Code = "NOT_FOUND"
	ErrCodeForbidden       Code = "FORBIDDEN"
	ErrCodeUnauthenticated Code = "UNAUTHENTICATED"
	ErrCodeInternal        Code = "INTERNAL_ERROR"
)

// Error is an application error carrying a code, an optional machine-readable
// reason and a client-safe message
type Error struct {
	Code    Code
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithReason returns a copy of e with the given reason
func (e *Error) WithReason(reason string) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// ClientCode returns the reason if set, otherwise the code
func (e *Error) ClientCode() string {
	if e.Reason != "" {
		return e.Reason
	}
	return string(e.Code)
}

// New creates an error with the given code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps err with a code and message
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func NotFound(resource string, id any) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     fmt.Errorf("%s %v", resource, id),
	}
}

func Validation(message string) *Error {
	return New(ErrCodeValidation, message)
}

func Conflict(message string) *Error {
	return New(ErrCodeConflict, message)
}

func Forbidden(message string) *Error {
	return New(ErrCodeForbidden, message)
}

func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthenticated, message)
}

func Internal(err error) *Error {
	return Wrap(err, ErrCodeInternal, "Internal server error")
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none
func CodeOf(err error) Code {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound is shorthand for HasCode(err, ErrCodeNotFound)
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// HTTPStatus maps a code to an HTTP status
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeValidation, ErrCodeConflict:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// As, Is and Join forward to the standard library so callers need one import.
func As(err error, target any) bool { return stderrors.As(err, target) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
