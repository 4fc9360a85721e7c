package backend

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed or ambiguous execution step. The engine keys
// its retry decision off this value alone, never off raw error strings.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindValidation  ErrorKind = "ValidationError"
	KindTransient   ErrorKind = "TransientNetworkError"
	KindFatal       ErrorKind = "FatalSubmissionError"
	KindCircuitOpen ErrorKind = "CircuitOpenError"
	KindUnknown     ErrorKind = "UnknownOutcomeError"
)

// Error is the structured error every backend call resolves into. Raw I/O
// errors never cross the executor boundary without being wrapped in one.
type Error struct {
	Kind    ErrorKind
	Backend string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Backend, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Backend, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func NewTransient(backendName, msg string, err error) *Error {
	return &Error{Kind: KindTransient, Backend: backendName, Msg: msg, Err: err}
}

func NewFatal(backendName, msg string, err error) *Error {
	return &Error{Kind: KindFatal, Backend: backendName, Msg: msg, Err: err}
}

// KindOf extracts the classification, defaulting unclassified errors to
// transient so an unexpected transport failure stays retryable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindTransient
}

// Retryable reports whether the engine may schedule another attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindCircuitOpen:
		return true
	default:
		return false
	}
}
