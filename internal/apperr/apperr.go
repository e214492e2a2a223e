package apperr

import (
	"errors"
	"fmt"
)

// Code categorizes a hub error.
type Code string

const (
	CodePairingTimeout        Code = "PAIRING_TIMEOUT"
	CodeSessionUnavailable    Code = "SESSION_UNAVAILABLE"
	CodeSessionNotReady       Code = "SESSION_NOT_READY"
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeUnsupportedAttachment Code = "UNSUPPORTED_ATTACHMENT"
	CodeInternal              Code = "INTERNAL"
)

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrPairingTimeout        = &Error{Code: CodePairingTimeout}
	ErrSessionUnavailable    = &Error{Code: CodeSessionUnavailable}
	ErrSessionNotReady       = &Error{Code: CodeSessionNotReady}
	ErrSessionNotFound       = &Error{Code: CodeSessionNotFound}
	ErrInvalidRequest        = &Error{Code: CodeInvalidRequest}
	ErrUnsupportedAttachment = &Error{Code: CodeUnsupportedAttachment}
)

// Error is a structured hub error. State carries the connection state
// observed when the error was raised, if any.
type Error struct {
	Code      Code
	Message   string
	State     string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.State != "" {
		msg += fmt.Sprintf(" (state: %s)", e.State)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// PairingTimeout is returned when no pairing code arrives within the bound.
func PairingTimeout(sessionID string) *Error {
	return &Error{
		Code:      CodePairingTimeout,
		Message:   fmt.Sprintf("no pairing code for session %q", sessionID),
		Retryable: true,
	}
}

// SessionUnavailable is returned when a session did not reach connected in time.
func SessionUnavailable(sessionID, state string) *Error {
	return &Error{
		Code:      CodeSessionUnavailable,
		Message:   fmt.Sprintf("session %q not available", sessionID),
		State:     state,
		Retryable: true,
	}
}

// SessionNotReady is returned when a send is attempted while not connected.
func SessionNotReady(sessionID, state string) *Error {
	return &Error{
		Code:    CodeSessionNotReady,
		Message: fmt.Sprintf("session %q not connected", sessionID),
		State:   state,
	}
}

// SessionNotFound is returned when neither the registry nor the account store know the session.
func SessionNotFound(sessionID string) *Error {
	return &Error{
		Code:      CodeSessionNotFound,
		Message:   fmt.Sprintf("session %q not found or not linked", sessionID),
		Retryable: true,
	}
}

// InvalidRequest reports malformed caller input.
func InvalidRequest(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// UnsupportedAttachment reports an attachment kind the dispatcher cannot send.
func UnsupportedAttachment(kind string) *Error {
	return &Error{Code: CodeUnsupportedAttachment, Message: fmt.Sprintf("unsupported attachment kind %q", kind)}
}

// Wrap attaches a code to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// CodeOf extracts the code from err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StateOf extracts the connection state carried by err, if any.
func StateOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.State
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
