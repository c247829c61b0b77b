// Package apperr defines the error kinds shared by all features.
// Each feature declares its own sentinel errors with these constructors and
// handlers map the kind to an HTTP status through pkg/response.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping
type Kind string

const (
	KindValidation    Kind = "VALIDATION_ERROR"
	KindAuthorization Kind = "FORBIDDEN"
	KindState         Kind = "INVALID_STATE"
	KindInProgress    Kind = "ALREADY_IN_PROGRESS"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindGateway       Kind = "GATEWAY_ERROR"
	KindTimeout       Kind = "GATEWAY_TIMEOUT"
	KindInternal      Kind = "INTERNAL_ERROR"
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Field   string // set for validation errors
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

// Is matches any *Error with the same kind and message, so sentinel errors
// still compare equal after being re-created with a wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message && e.Field == t.Field
}

// Validation returns an error naming the first invalid field
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

func State(message string) *Error {
	return &Error{Kind: KindState, Message: message}
}

func InProgress(message string) *Error {
	return &Error{Kind: KindInProgress, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Gateway wraps a failure of the external payment provider
func Gateway(message string, err error) *Error {
	return &Error{Kind: KindGateway, Message: message, Err: err}
}

// Timeout wraps a payment provider call that did not answer in time
func Timeout(message string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: message, Err: err}
}

// Wrap attaches a cause to a sentinel while keeping it comparable with errors.Is
func Wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Field: sentinel.Field, Message: sentinel.Message, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldOf returns the offending field of a validation error
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// MessageOf returns the client-safe message for err. Unclassified errors
// never expose their text.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal {
			return "internal error"
		}
		return e.Message
	}
	return "internal error"
}
