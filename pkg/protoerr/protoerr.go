// Package protoerr defines the structured error returned by envelope and kernel operations.
package protoerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindSerialization Kind = "SERIALIZATION"
	KindMatrix        Kind = "MATRIX"
	KindTransport     Kind = "TRANSPORT"
	KindConfiguration Kind = "CONFIGURATION"
	KindGeneric       Kind = "GENERIC"
)

// Reason refines a Matrix error.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonDimensionMismatch Reason = "DIMENSION_MISMATCH"
	ReasonSingular          Reason = "SINGULAR"
	ReasonUnimplemented     Reason = "UNIMPLEMENTED"
)

// Error is a protocol error. Two errors match under errors.Is when their kinds match,
// so the Err* sentinels below can be used to test for a kind.
type Error struct {
	Kind    Kind   `json:"kind"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable is always false: no core operation is retried and none of its failures are transient.
func (e *Error) Retryable() bool { return false }

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrSerialization = &Error{Kind: KindSerialization}
	ErrMatrix        = &Error{Kind: KindMatrix}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrGeneric       = &Error{Kind: KindGeneric}
)

// Validation returns a Validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Serialization returns a Serialization error wrapping cause (which may be nil).
func Serialization(cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &Error{Kind: KindSerialization, Message: msg, cause: cause}
}

// Matrix returns a Matrix error with the given reason.
func Matrix(reason Reason, format string, args ...any) *Error {
	return &Error{Kind: KindMatrix, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Transport returns a Transport error wrapping cause.
func Transport(cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &Error{Kind: KindTransport, Message: msg, cause: cause}
}

// Configuration returns a Configuration error.
func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Generic returns a caller-raised error.
func Generic(format string, args ...any) *Error {
	return &Error{Kind: KindGeneric, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindGeneric.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindGeneric
}

// IsReason reports whether err carries a Matrix error with the given reason.
func IsReason(err error, reason Reason) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindMatrix && pe.Reason == reason
}
