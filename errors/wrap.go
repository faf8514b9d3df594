package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a structured Error, it wraps it with the new message and
// preserves its properties.
// Otherwise, it creates a new Internal error wrapping the original.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	// If it's already a structured error, preserve its properties
	var turnErr *Error
	if errors.As(err, &turnErr) {
		wrapped := &Error{
			code:      turnErr.code,
			category:  turnErr.category,
			message:   message,
			cause:     err,
			metadata:  turnErr.Metadata(),
			retryable: turnErr.retryable,
			sessionID: turnErr.sessionID,
			sourceTag: turnErr.sourceTag,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	// Check for context errors
	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	// Default to internal error for unknown errors
	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsTurnError attempts to extract a structured Error from an error chain.
// Returns nil if none is found.
func AsTurnError(err error) TurnError {
	var turnErr *Error
	if errors.As(err, &turnErr) {
		return turnErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var turnErr *Error
	if errors.As(err, &turnErr) {
		return turnErr.code == code
	}
	return false
}
