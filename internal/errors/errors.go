package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error type mapped to process exit codes
// and HTTP statuses.
type Code int

const (
	CodeSuccess           Code = 0
	CodeInternal          Code = 1
	CodeUsage             Code = 2
	CodeAuth              Code = 10
	CodeRateLimited       Code = 11
	CodeUnavailable       Code = 12
	CodeUnsupported       Code = 13
	CodeBlocked           Code = 16
	CodeNotFound          Code = 20
	CodeStateConflict     Code = 21
	CodeNoRoute           Code = 22
	CodeAmountOutOfBounds Code = 23
	CodeExpired           Code = 24
)

// Error is a typed error that carries a stable error code. Reason, when set,
// is the API-facing error code and refines the generic type name of Code.
type Error struct {
	Code    Code
	Reason  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorCode returns the API-facing code: Reason when present, else the type name.
func (e *Error) ErrorCode() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Code.Type()
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithReason returns a copy of e carrying the given API-facing reason.
func (e *Error) WithReason(reason string) *Error {
	out := *e
	out.Reason = reason
	return &out
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}

func (c Code) Type() string {
	switch c {
	case CodeSuccess:
		return "OK"
	case CodeUsage:
		return "VALIDATION"
	case CodeAuth:
		return "AUTH"
	case CodeRateLimited:
		return "RATE_LIMITED"
	case CodeUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	case CodeUnsupported:
		return "UNSUPPORTED"
	case CodeBlocked:
		return "BLOCKED"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeStateConflict:
		return "STATE_CONFLICT"
	case CodeNoRoute:
		return "NO_ROUTE"
	case CodeAmountOutOfBounds:
		return "AMOUNT_OUT_OF_BOUNDS"
	case CodeExpired:
		return "EXPIRED"
	default:
		return "INTERNAL"
	}
}

func (c Code) HTTPStatus() int {
	switch c {
	case CodeSuccess:
		return http.StatusOK
	case CodeUsage:
		return http.StatusBadRequest
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeBlocked:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStateConflict:
		return http.StatusConflict
	case CodeExpired:
		return http.StatusGone
	case CodeNoRoute, CodeAmountOutOfBounds, CodeUnsupported:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
