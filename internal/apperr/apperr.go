// Package apperr defines the stable failure codes surfaced by the API.
// Callers branch on the Kind, never on the message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation         Kind = "VALIDATION_ERROR"
	KindNotFound           Kind = "NOT_FOUND"
	KindInsufficientStock  Kind = "INSUFFICIENT_STOCK"
	KindInvalidRelease     Kind = "INVALID_RELEASE"
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"
	KindTimeout            Kind = "TIMEOUT"
	KindConflict           Kind = "CONFLICT"
	KindInternal           Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the failure kind from an error chain. Unrecognized errors
// report KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf returns the human-readable reason without internal wrapping.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps each failure kind to its wire status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientStock, KindInvalidRelease, KindInvariantViolation, KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
