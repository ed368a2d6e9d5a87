package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: peer fetch timeouts, temporary transport unavailability.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid record, unknown agent, signature mismatch.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates admission or quota rejections.
	// Examples: QPS budget exhausted, concurrency ceiling reached.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
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

// Error codes for directory operations.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Peer or backend temporarily unavailable
	ErrCodeNetworkErr  ErrorCode = "NETWORK_ERR" // Network connectivity issue

	// Permanent errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Unknown agent, session, or key
	ErrCodeConflict     ErrorCode = "CONFLICT"      // Duplicate id or already-claimed agent
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed record or request
	ErrCodeSecurity     ErrorCode = "SECURITY"      // Identity or signature mismatch
	ErrCodeState        ErrorCode = "STATE"         // Operation illegal in current state
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED"   // Protocol not supported by any transport
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled

	// Resource errors
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED" // QPS budget or concurrency ceiling hit
	ErrCodePoWRequired ErrorCode = "POW_REQUIRED" // Proof-of-work challenge missing or invalid

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error

	// Invocation errors
	ErrCodeAgentOffline ErrorCode = "AGENT_OFFLINE" // Target agent is offline
	ErrCodeInvocation   ErrorCode = "INVOCATION"    // Transport-level invocation failure
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr, ErrCodeAgentOffline, ErrCodeInvocation:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput, ErrCodeSecurity,
		ErrCodeState, ErrCodeUnsupported, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeRateLimited, ErrCodePoWRequired:
		return CategoryResource

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
	ErrCodeTimeout:      "operation timed out",
	ErrCodeUnavailable:  "temporarily unavailable",
	ErrCodeNetworkErr:   "network connectivity error",
	ErrCodeNotFound:     "not found",
	ErrCodeConflict:     "conflicting operation",
	ErrCodeInvalidInput: "invalid input provided",
	ErrCodeSecurity:     "identity or signature verification failed",
	ErrCodeState:        "operation not allowed in current state",
	ErrCodeUnsupported:  "protocol not supported",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeRateLimited:  "rate limit exceeded",
	ErrCodePoWRequired:  "proof-of-work required",
	ErrCodeInternal:     "internal error",
	ErrCodeAgentOffline: "agent is offline",
	ErrCodeInvocation:   "invocation failed",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
