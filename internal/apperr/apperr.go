// Package apperr defines the error taxonomy shared by the HTTP and websocket
// adapters.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "not_found"
	KindDatabase       Kind = "database_error"
	KindCompletion     Kind = "completion_service_error"
	KindInternal       Kind = "internal_error"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Stack:   string(debug.Stack()),
	}
}

// Validation reports malformed or missing input.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

// Authentication reports a missing or invalid identity.
func Authentication(format string, args ...any) *Error {
	return newError(KindAuthentication, nil, format, args...)
}

// Authorization reports an ownership failure.
func Authorization(format string, args ...any) *Error {
	return newError(KindAuthorization, nil, format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// Database wraps a persistence failure.
func Database(err error, format string, args ...any) *Error {
	return newError(KindDatabase, err, format, args...)
}

// Completion wraps a text-completion collaborator failure.
func Completion(err error, format string, args ...any) *Error {
	return newError(KindCompletion, err, format, args...)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Status maps an error to an HTTP status code.
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindCompletion:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a client. Unclassified
// errors are not echoed.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// StackOf returns the captured stack, if any.
func StackOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Stack
	}
	return ""
}
