package errors

import (
	"fmt"
	"time"
)

// Error is the structured error type used throughout parley. It carries a
// code for programmatic handling, a category for retry decisions, and
// optional metadata tying the failure to a session or RPC method.
type Error struct {
	code       ErrorCode
	category   ErrorCategory
	message    string
	cause      error
	metadata   map[string]string
	timestamp  time.Time
	sessionKey string // related communication, if applicable
	method     string // related RPC method or tool name, if applicable
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// SessionKey returns the related session key, if set.
func (e *Error) SessionKey() string {
	return e.sessionKey
}

// Method returns the related RPC method or tool name, if set.
func (e *Error) Method() string {
	return e.method
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSessionKey sets the related session key.
func WithSessionKey(key string) Option {
	return func(e *Error) {
		e.sessionKey = key
	}
}

// WithMethod sets the related RPC method or tool name.
func WithMethod(method string) Option {
	return func(e *Error) {
		e.method = method
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// NotConnected reports a write or call attempted without a subprocess.
func NotConnected(message string, opts ...Option) *Error {
	return New(ErrCodeNotConnected, message, opts...)
}

// AlreadyConnected reports a second connect on a live client.
func AlreadyConnected(message string, opts ...Option) *Error {
	return New(ErrCodeAlreadyConnected, message, opts...)
}

// Handshake reports a failed initialize exchange.
func Handshake(message string, opts ...Option) *Error {
	return New(ErrCodeHandshake, message, opts...)
}

// RequestTimeout reports an expired per-request deadline for a method.
func RequestTimeout(method string, opts ...Option) *Error {
	opts = append([]Option{WithMethod(method)}, opts...)
	return New(ErrCodeRequestTimeout, fmt.Sprintf("request %s timed out", method), opts...)
}

// RemoteTool surfaces an error envelope returned by the endpoint. The
// JSON-RPC code and message are preserved in metadata and the cause chain.
func RemoteTool(code int, message string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("rpc_code", fmt.Sprintf("%d", code))}, opts...)
	return New(ErrCodeRemoteTool, fmt.Sprintf("remote tool error %d: %s", code, message), opts...)
}

// Disconnected reports a subprocess exit with requests in flight.
func Disconnected(message string, opts ...Option) *Error {
	return New(ErrCodeDisconnected, message, opts...)
}

// TooManyErrors reports a tripped circuit breaker wrapping the last failure.
func TooManyErrors(threshold int, lastErr error, opts ...Option) *Error {
	opts = append([]Option{
		WithMetadata("threshold", fmt.Sprintf("%d", threshold)),
		WithCause(lastErr),
	}, opts...)
	return New(ErrCodeTooManyErrors,
		fmt.Sprintf("%d consecutive failures, endpoint considered unusable", threshold), opts...)
}

// AlreadyExists reports a duplicate communication initialize.
func AlreadyExists(sessionKey string, opts ...Option) *Error {
	opts = append([]Option{WithSessionKey(sessionKey)}, opts...)
	return New(ErrCodeAlreadyExists,
		fmt.Sprintf("communication %s already exists", sessionKey), opts...)
}

// NotActive reports a mutation attempted on a terminal communication.
// The terminal status is preserved in metadata under "status".
func NotActive(sessionKey, status string, opts ...Option) *Error {
	opts = append([]Option{
		WithSessionKey(sessionKey),
		WithMetadata("status", status),
	}, opts...)
	return New(ErrCodeNotActive,
		fmt.Sprintf("communication %s is %s, not active", sessionKey, status), opts...)
}

// Misdirected reports a response processed by an agent that was not the
// addressee of the most recent exchange.
func Misdirected(sessionKey, expected, got string, opts ...Option) *Error {
	opts = append([]Option{
		WithSessionKey(sessionKey),
		WithMetadata("expected_agent", expected),
		WithMetadata("receiving_agent", got),
	}, opts...)
	return New(ErrCodeMisdirected,
		fmt.Sprintf("message for %s processed by %s", expected, got), opts...)
}

// NotFound reports an unknown session key.
func NotFound(sessionKey string, opts ...Option) *Error {
	opts = append([]Option{WithSessionKey(sessionKey)}, opts...)
	return New(ErrCodeNotFound,
		fmt.Sprintf("communication %s not found", sessionKey), opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
