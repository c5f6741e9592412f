// Package apperr defines the error kinds surfaced to API callers.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes an error for callers (and for HTTP status mapping).
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindIngestion  Kind = "ingestion"
	KindGeneration Kind = "generation"
	KindInternal   Kind = "internal"
)

// Error is a categorized error with an optional cause.
type Error struct {
	Kind    Kind
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

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFound returns a KindNotFound error.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Validation returns a KindValidation error.
func Validation(message string) *Error { return New(KindValidation, message) }

// Ingestion wraps a failure of an external ingestion step.
func Ingestion(message string, err error) *Error { return Wrap(KindIngestion, message, err) }

// Generation wraps a failure while retrieving or generating an answer.
func Generation(message string, err error) *Error { return Wrap(KindGeneration, message, err) }

// ErrSessionNotFound is returned when a session id is not registered.
var ErrSessionNotFound = NotFound("Session not found. Upload a PDF first.")

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }

// IsIngestion reports whether err is an ingestion error.
func IsIngestion(err error) bool { return err != nil && KindOf(err) == KindIngestion }

// IsTimeout reports whether err was caused by a context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
