package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing failures. Every failure that crosses the
// router boundary carries exactly one of these.
const (
	// ErrParse means the intent text was malformed or ambiguous.
	ErrParse = "PARSE"
	// ErrConfig means a host, backend, or credential setting is missing or invalid.
	ErrConfig = "CONFIG"
	// ErrAuth means a credential was absent or rejected by the remote service.
	ErrAuth = "AUTH"
	// ErrConnectivity means a daemon was down, a host unreachable, or a handshake failed.
	ErrConnectivity = "CONNECTIVITY"
	// ErrUntrustedHost means the remote host key was unknown or did not match.
	ErrUntrustedHost = "UNTRUSTED_HOST"
	// ErrTimeout means a bounded operation exceeded its limit.
	ErrTimeout = "TIMEOUT"
	// ErrPathSafety means a transfer candidate failed a containment check.
	ErrPathSafety = "PATH_SAFETY"
	// ErrCancelled means the caller cancelled the invocation.
	ErrCancelled = "CANCELLED"
	// ErrExec means the command itself could not be run.
	ErrExec = "EXEC"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// It renders as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrExec code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrExec,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may reasonably try the same
// invocation again. Nothing in this module retries on its own.
func (e *Error) Retryable() bool {
	return e.Code == ErrConnectivity
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// CodeOf returns the code of the first structured Error in err's chain,
// or ErrExec when err carries no structured error at all.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrExec
}

// As converts any error into a structured Error. A structured error already
// in the chain is returned as-is; anything else is wrapped under ErrExec.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Wrap(err, "Execution failed")
}
