package errors

import (
	"context"
	"errors"
	"net"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// An existing *Error keeps its code and category. Context errors map to
// TIMEOUT / CANCELED, net.Error to NETWORK_ERR, anything else to INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var sessErr *Error
	if errors.As(err, &sessErr) {
		wrapped := &Error{
			code:     sessErr.code,
			category: sessErr.category,
			message:  message,
			cause:    err,
			metadata: sessErr.Metadata(),
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	opts = append(opts, WithCause(err))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(ErrCodeTimeout, message, opts...)
	case errors.Is(err, context.Canceled):
		return New(ErrCodeCanceled, message, opts...)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(ErrCodeTimeout, message, opts...)
		}
		return New(ErrCodeNetworkErr, message, opts...)
	}

	return New(ErrCodeInternal, message, opts...)
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var sessErr *Error
	if errors.As(err, &sessErr) {
		return sessErr.code == code
	}
	return false
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var sessErr *Error
	if errors.As(err, &sessErr) {
		return sessErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable. Plain errors are not.
func IsRetryable(err error) bool {
	var sessErr *Error
	if errors.As(err, &sessErr) {
		return sessErr.Retryable()
	}
	return false
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// IsPermanent checks if the error is permanent.
func IsPermanent(err error) bool {
	return IsCategory(err, CategoryPermanent)
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	var sessErr *Error
	if errors.As(err, &sessErr) {
		return sessErr.code
	}
	return ""
}
