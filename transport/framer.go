package transport

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"parley/errors"
	"parley/logging"
)

// maxLineSize bounds a single envelope line. Tool results can carry large
// payloads (file contents, LLM completions).
const maxLineSize = 1024 * 1024

// Framer turns the byte stream of a tool endpoint into discrete JSON-RPC
// envelopes and writes outgoing envelopes as single newline-terminated
// lines. One Framer owns one pair of streams for its whole lifetime.
//
// Callbacks are registered at wiring time, before Start. The disconnect
// signal fires exactly once per Framer, fanning out to every listener.
type Framer struct {
	log *logging.Logger

	writeMu sync.Mutex
	w       io.Writer
	r       io.Reader
	closed  atomic.Bool

	onResponse     []func(*Response)
	onNotification []func(method string, params json.RawMessage)
	onDisconnect   []func(exitCode int)
	signaled       atomic.Bool

	// ExitCodeFunc resolves the endpoint's exit code once the stream ends.
	// It may block until the process has been reaped. When nil the
	// disconnect signal carries -1.
	ExitCodeFunc func() int

	readerDone chan struct{}
}

// NewFramer creates a Framer over an endpoint's output and input streams.
func NewFramer(r io.Reader, w io.Writer, log *logging.Logger) *Framer {
	if log == nil {
		log = logging.New()
	}
	return &Framer{
		log:        log.WithComponent("framer"),
		r:          r,
		w:          w,
		readerDone: make(chan struct{}),
	}
}

// OnResponse registers a listener for correlated replies.
func (f *Framer) OnResponse(fn func(*Response)) {
	f.onResponse = append(f.onResponse, fn)
}

// OnNotification registers a listener for server-originated notifications.
func (f *Framer) OnNotification(fn func(method string, params json.RawMessage)) {
	f.onNotification = append(f.onNotification, fn)
}

// OnDisconnect registers a listener for the endpoint-exit signal.
func (f *Framer) OnDisconnect(fn func(exitCode int)) {
	f.onDisconnect = append(f.onDisconnect, fn)
}

// Start launches the read loop. Call after all listeners are registered.
func (f *Framer) Start() {
	go f.readLoop()
}

// Write serializes v to one line of JSON and writes it atomically,
// newline-terminated, to the endpoint's input stream.
func (f *Framer) Write(v interface{}) error {
	if f.closed.Load() {
		return errors.NotConnected("framer closed")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.Internal("marshal envelope", errors.WithCause(err))
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if _, err := f.w.Write(append(data, '\n')); err != nil {
		return errors.NotConnected("write to endpoint", errors.WithCause(err))
	}
	return nil
}

// Close marks the write side closed. Subsequent writes fail with
// NOT_CONNECTED. Close does not terminate the endpoint; that is the
// owner's job.
func (f *Framer) Close() {
	f.closed.Store(true)
}

// Done is closed when the read loop has finished.
func (f *Framer) Done() <-chan struct{} {
	return f.readerDone
}

// SignalDisconnect delivers the disconnect signal to all listeners.
// Idempotent: only the first call fans out.
func (f *Framer) SignalDisconnect(exitCode int) {
	if f.signaled.Swap(true) {
		return
	}
	f.closed.Store(true)
	for _, fn := range f.onDisconnect {
		fn(exitCode)
	}
}

// readLoop splits the endpoint's output on newline boundaries, leaving any
// trailing partial line buffered, and dispatches each parsed envelope. The
// loop ends at stream EOF, after which the disconnect signal fires with the
// endpoint's exit code.
func (f *Framer) readLoop() {
	defer close(f.readerDone)

	scanner := bufio.NewScanner(f.r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !LooksLikeEnvelope(line) {
			f.log.DroppedLine("no envelope marker", len(line))
			continue
		}

		var in inbound
		if err := json.Unmarshal(line, &in); err != nil {
			// A single malformed line must not take down a long-lived
			// connection.
			f.log.DroppedLine(err.Error(), len(line))
			continue
		}

		switch {
		case in.ID != nil:
			resp := &Response{JSONRPC: in.JSONRPC, ID: *in.ID, Result: in.Result, Error: in.Error}
			for _, fn := range f.onResponse {
				fn(resp)
			}
		case in.Method != "":
			for _, fn := range f.onNotification {
				fn(in.Method, in.Params)
			}
		default:
			f.log.DroppedLine("envelope without id or method", len(line))
		}
	}

	code := -1
	if f.ExitCodeFunc != nil {
		code = f.ExitCodeFunc()
	}
	f.SignalDisconnect(code)
}
