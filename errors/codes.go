package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: request timeouts, a tool endpoint restarting.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: misdirected messages, duplicate session keys, bad handshakes.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates the remote endpoint should be considered
	// unusable rather than retried. Example: circuit breaker tripped.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors or bugs.
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

// Error codes for every failure mode in the communication core. Callers
// distinguish failures by code, never by message text.
const (
	// Transport level
	ErrCodeNotConnected     ErrorCode = "NOT_CONNECTED"     // no subprocess attached
	ErrCodeAlreadyConnected ErrorCode = "ALREADY_CONNECTED" // connect called twice

	// RPC level
	ErrCodeHandshake      ErrorCode = "HANDSHAKE_FAILED" // initialize returned an error
	ErrCodeRequestTimeout ErrorCode = "REQUEST_TIMEOUT"  // per-request deadline elapsed
	ErrCodeRemoteTool     ErrorCode = "REMOTE_TOOL"      // error envelope from the endpoint
	ErrCodeDisconnected   ErrorCode = "DISCONNECTED"     // subprocess exited with calls in flight

	// Resilience
	ErrCodeTooManyErrors ErrorCode = "TOO_MANY_ERRORS" // circuit breaker threshold crossed

	// Ledger level
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS" // duplicate session initialize
	ErrCodeNotActive     ErrorCode = "NOT_ACTIVE"     // mutation on a terminal communication
	ErrCodeMisdirected   ErrorCode = "MISDIRECTED"    // response processed by the wrong agent
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"      // unknown session key

	// General
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// String returns the string representation of the code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the category an error code belongs to.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeRequestTimeout, ErrCodeDisconnected:
		return CategoryTransient
	case ErrCodeTooManyErrors:
		return CategoryResource
	case ErrCodeInternal:
		return CategoryInternal
	default:
		return CategoryPermanent
	}
}

// Description returns a human-readable default message for the code.
func (c ErrorCode) Description() string {
	switch c {
	case ErrCodeNotConnected:
		return "not connected to a tool endpoint"
	case ErrCodeAlreadyConnected:
		return "already connected to a tool endpoint"
	case ErrCodeHandshake:
		return "endpoint handshake failed"
	case ErrCodeRequestTimeout:
		return "request timed out"
	case ErrCodeRemoteTool:
		return "remote tool returned an error"
	case ErrCodeDisconnected:
		return "tool endpoint disconnected"
	case ErrCodeTooManyErrors:
		return "too many consecutive failures"
	case ErrCodeAlreadyExists:
		return "communication already exists"
	case ErrCodeNotActive:
		return "communication is not active"
	case ErrCodeMisdirected:
		return "message addressed to a different agent"
	case ErrCodeNotFound:
		return "communication not found"
	case ErrCodeInvalidInput:
		return "invalid input"
	default:
		return "internal error"
	}
}
