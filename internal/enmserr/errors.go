// Package enmserr defines the wire-visible error kinds raised by the engines
// and mapped to HTTP status codes by the REST layer.
package enmserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP mapping and retry decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindNotFound
	KindConflict
	KindInsufficientData
	KindNotTrained
	KindRateLimited
	KindTooManyConnections
	KindTransientUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientData:
		return "insufficient_data"
	case KindNotTrained:
		return "not_trained"
	case KindRateLimited:
		return "rate_limited"
	case KindTooManyConnections:
		return "too_many_connections"
	case KindTransientUnavailable:
		return "transient_unavailable"
	default:
		return "internal"
	}
}

// Error carries a kind plus a human-readable message. Wraps an underlying
// cause when one exists so errors.Is/As keep working through the layers.
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

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human-readable message, or err.Error() for
// unclassified errors.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	return IsKind(err, KindTransientUnavailable)
}
