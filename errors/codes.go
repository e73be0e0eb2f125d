package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where a later cycle may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors or invariant violations.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Request timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Server returned 5xx
	ErrCodeNetworkErr  ErrorCode = "NETWORK_ERR" // Transport-level failure

	// Permanent errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed payload
	ErrCodeOutOfRange   ErrorCode = "OUT_OF_RANGE"  // Well-formed value outside accepted bounds
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"  // Token rejected
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"     // Token lacks access
	ErrCodeRejected     ErrorCode = "REJECTED"      // Server answered success=false or 4xx
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Caller gave up

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr:
		return CategoryTransient
	case ErrCodeInvalidInput, ErrCodeOutOfRange, ErrCodeUnauthorized, ErrCodeForbidden,
		ErrCodeRejected, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}
