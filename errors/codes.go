package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: retrieval source timeouts, store connectivity blips.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid bot configuration, rejected generated queries.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or quota issues.
	// Examples: rate limiting by an external capability, cache at capacity.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: nil pointer, corrupted session payload.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for common failure scenarios.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Service temporarily unavailable
	ErrCodeNetworkErr  ErrorCode = "NETWORK_ERR" // Network connectivity issue

	// Permanent errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Resource does not exist
	ErrCodeConflict     ErrorCode = "CONFLICT"      // Conflicting operation or state
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed or invalid input
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED"   // Operation not supported
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled

	// Resource errors
	ErrCodeRateLimit ErrorCode = "RATE_LIMITED" // Rate limit exceeded
	ErrCodeCapacity  ErrorCode = "CAPACITY"     // System at capacity

	// Internal errors
	ErrCodeInternal   ErrorCode = "INTERNAL"   // Unexpected internal error
	ErrCodeCorruption ErrorCode = "CORRUPTION" // Data corruption detected
	ErrCodePanic      ErrorCode = "PANIC"      // Recovered from panic

	// Conversation-engine errors
	ErrCodeConfigInvalid     ErrorCode = "CONFIG_INVALID"     // Bot configuration is invalid or missing
	ErrCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE" // Retrieval source errored or timed out
	ErrCodeQueryRejected     ErrorCode = "QUERY_REJECTED"     // Generated structured query failed validation
	ErrCodeStoreFailure      ErrorCode = "STORE_FAILURE"      // Session context store read/write failed
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	// Transient
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr:
		return CategoryTransient

	// Permanent
	case ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput,
		ErrCodeUnsupported, ErrCodeCanceled:
		return CategoryPermanent

	// Resource
	case ErrCodeRateLimit, ErrCodeCapacity:
		return CategoryResource

	// Internal
	case ErrCodeInternal, ErrCodeCorruption, ErrCodePanic:
		return CategoryInternal

	// Conversation-engine (varies)
	case ErrCodeSourceUnavailable, ErrCodeStoreFailure:
		return CategoryTransient
	case ErrCodeConfigInvalid, ErrCodeQueryRejected:
		return CategoryPermanent

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:           "operation timed out",
	ErrCodeUnavailable:       "service temporarily unavailable",
	ErrCodeNetworkErr:        "network connectivity error",
	ErrCodeNotFound:          "resource not found",
	ErrCodeConflict:          "conflicting operation",
	ErrCodeInvalidInput:      "invalid input provided",
	ErrCodeUnsupported:       "operation not supported",
	ErrCodeCanceled:          "operation canceled",
	ErrCodeRateLimit:         "rate limit exceeded",
	ErrCodeCapacity:          "system at capacity",
	ErrCodeInternal:          "internal error",
	ErrCodeCorruption:        "data corruption detected",
	ErrCodePanic:             "recovered from panic",
	ErrCodeConfigInvalid:     "bot configuration invalid",
	ErrCodeSourceUnavailable: "retrieval source unavailable",
	ErrCodeQueryRejected:     "generated query rejected",
	ErrCodeStoreFailure:      "session store failure",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
