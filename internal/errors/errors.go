// Package errors provides centralized error definitions and error handling utilities
// for autoref. It defines sentinel errors for the provisioning pipeline, a
// RemoteError type for failed calls to external services, and classification
// helpers used to pick log levels and exit behavior.
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewRemoteError("register", 502, body)
//	err := errors.NewRemoteError("confirm referral", 0, nil).WithCause(netErr)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrBotUnavailable) { ... }
//
//	var remoteErr *errors.RemoteError
//	if errors.As(err, &remoteErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
//	if errors.IsFatal(err) { ... }
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Startup sentinel errors
var (
	// ErrBotUnavailable indicates the chat bot could not be initialized
	// within its retry bound. The process must stop before any task runs.
	ErrBotUnavailable = New("failed to initialize bot after multiple attempts")
	// ErrMissingConfig indicates a required configuration value is absent.
	ErrMissingConfig = New("missing required configuration")
)

// Pipeline sentinel errors
var (
	// ErrProfileSetup indicates a profile step failed. Profile calls are not
	// retried, so this ends the pipeline.
	ErrProfileSetup = New("profile setup failed")
	// ErrNoPendingWait indicates a value arrived while nothing was waiting for it.
	ErrNoPendingWait = New("not waiting for referral code")
	// ErrTokenNotReady indicates a value arrived before the current account
	// finished registering.
	ErrTokenNotReady = New("account token not ready")
)

// -----------------------------------------------------------------------------
// Remote Errors
// -----------------------------------------------------------------------------

// RemoteError describes a failed call to an external service: the mailbox
// provider, the registration service or the chat transport.
//
// Example:
//
//	err := errors.NewRemoteError("register", 503, []byte("unavailable"))
//	fmt.Println(err) // "remote error [op=register, status=503]: unavailable"
type RemoteError struct {
	Op     string
	Status int
	Body   string
	cause  error
}

// NewRemoteError creates a RemoteError for the named operation. A zero status
// means no HTTP response was received.
func NewRemoteError(op string, status int, body []byte) *RemoteError {
	return &RemoteError{
		Op:     op,
		Status: status,
		Body:   strings.TrimSpace(string(body)),
	}
}

// WithCause attaches the underlying transport or decode error.
func (e *RemoteError) WithCause(cause error) *RemoteError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *RemoteError) Error() string {
	parts := []string{"op=" + e.Op}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	prefix := fmt.Sprintf("remote error [%s]", strings.Join(parts, ", "))

	detail := e.Body
	if detail == "" && e.cause != nil {
		detail = e.cause.Error()
	}
	if detail == "" {
		return prefix
	}
	return fmt.Sprintf("%s: %s", prefix, detail)
}

// Unwrap returns the underlying error.
func (e *RemoteError) Unwrap() error {
	return e.cause
}

// IsRetryable reports whether repeating the call may succeed. Transport
// failures, throttling and server errors are retryable; other client errors
// are not.
func (e *RemoteError) IsRetryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == 429:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable determines if an error is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var remoteErr *RemoteError
	if As(err, &remoteErr) {
		return remoteErr.IsRetryable()
	}

	return Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err should stop the process. Cancellation is not
// fatal: it is how an interrupted run unwinds.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, context.Canceled) {
		return false
	}
	return true
}

// Wrap wraps an error with additional context.
// Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
