package httpx

import (
	"fmt"
	"net/http"
)

// Kind names an error category in the response envelope.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindUnauthorized      Kind = "UnauthorizedError"
	KindForbidden         Kind = "ForbiddenError"
	KindNotFound          Kind = "NotFoundError"
	KindConflict          Kind = "ConflictError"
	KindInvalidTransition Kind = "InvalidTransitionError"
	KindInternal          Kind = "InternalServerError"
)

// Error is an error that knows how it should be rendered over HTTP.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a 400 carrying field-level violations.
func Validation(details map[string]string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: "validation failed", Details: details}
}

func Unauthorized(msg string) *Error {
	if msg == "" {
		msg = "authentication required"
	}
	return &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	if msg == "" {
		msg = "insufficient permissions"
	}
	return &Error{Kind: KindForbidden, Status: http.StatusForbidden, Message: msg}
}

// NotFound reports a missing resource, e.g. NotFound("customer").
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: resource + " not found"}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Status: http.StatusConflict, Message: msg}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Status:  http.StatusConflict,
		Message: fmt.Sprintf("cannot move from %s to %s", from, to),
		Details: map[string]string{"from": from, "to": to},
	}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: "internal server error", Err: err}
}
