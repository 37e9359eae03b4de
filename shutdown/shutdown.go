// Package shutdown coordinates graceful teardown of endpoints and the
// session store.
//
// Handlers run in phases: lower phases first, handlers within one phase
// concurrently. Endpoint clients are disconnected before the store
// closes so that every subprocess is reaped and no session lock is left
// behind. HandleSignals wires SIGINT and SIGTERM to a timed shutdown.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"parley/logging"
)

var (
	// ErrTimeout indicates shutdown did not finish within its deadline.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates at least one handler returned an error.
	ErrHandlerFailed = errors.New("one or more shutdown handlers failed")
)

// Default phases. Endpoints close before the store so pending requests
// fail fast and no session lock outlives its writer.
const (
	PhaseEndpoints = 10
	PhaseStore     = 20
)

// DefaultTimeout bounds a signal-triggered shutdown.
const DefaultTimeout = 15 * time.Second

// Handler is one component's teardown step. The context is cancelled
// when the shutdown deadline passes.
type Handler func(ctx context.Context) error

type registration struct {
	name    string
	phase   int
	handler Handler
}

// Coordinator runs registered handlers once, in phase order.
type Coordinator struct {
	log *logging.Logger

	mu       sync.Mutex
	handlers []registration

	once    sync.Once
	done    chan struct{}
	err     error
	signals chan os.Signal
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(log *logging.Logger) *Coordinator {
	if log == nil {
		log = logging.New()
	}
	return &Coordinator{
		log:     log.WithComponent("shutdown"),
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a handler to a phase. Registration after shutdown has
// started is ignored.
func (c *Coordinator) Register(name string, phase int, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, handler: handler})
}

// Shutdown runs all handlers. Safe to call more than once; later calls
// wait for the first and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by a deadline.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers a timed shutdown on SIGINT or SIGTERM.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-c.signals
		c.log.Info("signal received", map[string]interface{}{"signal": sig.String()})
		c.ShutdownWithTimeout(DefaultTimeout)
	}()
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error. Valid once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var failed bool
	for start := 0; start < len(handlers); {
		end := start
		for end < len(handlers) && handlers[end].phase == handlers[start].phase {
			end++
		}

		select {
		case <-ctx.Done():
			c.log.Error("shutdown timed out", map[string]interface{}{"phase": handlers[start].phase})
			return ErrTimeout
		default:
		}

		if c.runPhase(ctx, handlers[start:end]) {
			failed = true
		}
		start = end
	}

	if failed {
		return ErrHandlerFailed
	}
	return nil
}

// runPhase runs one phase's handlers concurrently and reports whether
// any failed.
func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) bool {
	var wg sync.WaitGroup
	errs := make([]error, len(handlers))
	for i, reg := range handlers {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			started := time.Now()
			err := reg.handler(ctx)
			errs[i] = err
			if err != nil {
				c.log.Error("handler failed", map[string]interface{}{
					"handler": reg.name,
					"error":   err,
				})
				return
			}
			c.log.Debug("handler finished", map[string]interface{}{
				"handler":  reg.name,
				"duration": time.Since(started),
			})
		}(i, reg)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return true
		}
	}
	return false
}
