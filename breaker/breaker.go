// Package breaker guards a sequence of remote tool calls against
// cascading endpoint failures.
package breaker

import (
	"context"
	"encoding/json"
	"sync"

	"parley/errors"
	"parley/logging"
)

// DefaultThreshold is the consecutive-failure count after which the next
// failure trips the breaker.
const DefaultThreshold = 3

// ToolCaller is the call surface the breaker decorates. *rpc.Client
// satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
}

// Breaker is a pass-through decorator around a ToolCaller. It keeps a
// single consecutive-failure counter shared across all tool names. Any
// success resets the counter; once it has reached the threshold, the next
// failure is re-raised as TOO_MANY_ERRORS so callers treat the endpoint as
// unusable rather than retrying. Failures are never suppressed, only the
// terminal one is annotated.
type Breaker struct {
	caller    ToolCaller
	threshold int
	log       *logging.Logger

	mu       sync.Mutex
	failures int
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold overrides the failure threshold.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// New wraps a ToolCaller with a circuit breaker.
func New(caller ToolCaller, log *logging.Logger, opts ...Option) *Breaker {
	if log == nil {
		log = logging.New()
	}
	b := &Breaker{
		caller:    caller,
		threshold: DefaultThreshold,
		log:       log.WithComponent("breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CallTool delegates to the wrapped caller, tracking consecutive failures.
func (b *Breaker) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	result, err := b.caller.CallTool(ctx, name, args)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return result, nil
	}

	if b.failures >= b.threshold {
		b.log.BreakerTripped(b.threshold, err)
		return nil, errors.TooManyErrors(b.threshold, err)
	}
	b.failures++
	return nil, err
}

// Failures reports the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
