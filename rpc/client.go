package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"parley/errors"
	"parley/logging"
	"parley/transport"
)

// Default timeout bounds per tool class. LLM-backed tools use the longer
// bound.
const (
	DefaultCallTimeout = 30 * time.Second
	SlowCallTimeout    = 60 * time.Second
)

// DefaultProtocolVersion is sent in the initialize handshake.
const DefaultProtocolVersion = "2024-11-05"

// Config configures a Client for one tool endpoint.
type Config struct {
	// Command launches the endpoint subprocess.
	Command transport.Command

	// ProtocolVersion for the handshake. Default: DefaultProtocolVersion.
	ProtocolVersion string

	// ClientName and ClientVersion identify this client in the handshake.
	ClientName    string
	ClientVersion string

	// CallTimeout is the per-request deadline for ordinary tools.
	// Default: 30s.
	CallTimeout time.Duration

	// SlowCallTimeout is the deadline for tools named in SlowTools.
	// Default: 60s.
	SlowCallTimeout time.Duration

	// SlowTools names the LLM-class tools that get the longer bound.
	SlowTools []string
}

func (c *Config) applyDefaults() {
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = DefaultProtocolVersion
	}
	if c.ClientName == "" {
		c.ClientName = "parley"
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "1.0.0"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.SlowCallTimeout <= 0 {
		c.SlowCallTimeout = SlowCallTimeout
	}
}

// outcome resolves one pending request: a reply or a failure, never both.
type outcome struct {
	resp *transport.Response
	err  error
}

// pendingRequest is one entry in the correlation table. It is removed
// exactly once: by a matching reply, by deadline expiry, or by the
// endpoint terminating.
type pendingRequest struct {
	method string
	done   chan outcome // buffered; resolution never blocks the reader
}

// Client presents a call/response interface over a Framer. One Client owns
// one endpoint subprocess. Concurrent calls are safe; replies are
// demultiplexed by id, not by arrival order.
type Client struct {
	config Config
	log    *logging.Logger

	mu     sync.Mutex // guards connect/disconnect lifecycle
	proc   *transport.Proc
	framer *transport.Framer
	tools  []Tool

	nextID  atomic.Int64
	pendMu  sync.Mutex
	pending map[int64]*pendingRequest

	slow map[string]bool
}

// New creates a Client. Call Connect before use.
func New(config Config, log *logging.Logger) *Client {
	config.applyDefaults()
	if log == nil {
		log = logging.New()
	}
	slow := make(map[string]bool, len(config.SlowTools))
	for _, name := range config.SlowTools {
		slow[name] = true
	}
	return &Client{
		config:  config,
		log:     log.WithComponent("rpc"),
		pending: make(map[int64]*pendingRequest),
		slow:    slow,
	}
}

// Connect spawns the endpoint, performs the initialize handshake, and
// populates the tool cache. Fails with ALREADY_CONNECTED if the endpoint is
// already running for this client.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.framer != nil {
		c.mu.Unlock()
		return errors.AlreadyConnected("endpoint already running")
	}

	proc, err := transport.Start(c.config.Command, c.log)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.proc = proc
	c.attach(proc.Framer(c.log))
	c.mu.Unlock()

	if err := c.handshake(ctx); err != nil {
		c.Disconnect()
		return err
	}
	return nil
}

// attach wires the framer's callbacks and starts its read loop.
// Caller holds c.mu (or owns the client exclusively, as tests do).
func (c *Client) attach(f *transport.Framer) {
	c.framer = f
	f.OnResponse(c.dispatch)
	f.OnDisconnect(c.failAllPending)
	f.Start()
}

// handshake runs initialize, sends the initialized notification, and
// caches the endpoint's tool list.
func (c *Client) handshake(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", initializeParams{
		ProtocolVersion: c.config.ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo: clientInfo{
			Name:    c.config.ClientName,
			Version: c.config.ClientVersion,
		},
	}, c.config.CallTimeout)
	if err != nil {
		if errors.Is(err, errors.ErrCodeRemoteTool) {
			return errors.WrapWithCode(err, errors.ErrCodeHandshake, "initialize rejected")
		}
		return errors.Wrap(err, "initialize failed")
	}

	if err := c.framer.Write(transport.NewNotification("notifications/initialized", nil)); err != nil {
		return errors.Wrap(err, "initialized notification")
	}

	raw, err := c.call(ctx, "tools/list", nil, c.config.CallTimeout)
	if err != nil {
		return errors.Wrap(err, "tools/list failed")
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return errors.Internal("parse tools list", errors.WithCause(err))
	}
	c.mu.Lock()
	c.tools = list.Tools
	c.mu.Unlock()

	c.log.Info("endpoint_ready", map[string]interface{}{"tools": len(list.Tools)})
	return nil
}

// ListTools returns the cached tool descriptors. The cache is never
// refreshed; callers needing freshness must reconnect.
func (c *Client) ListTools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tools := make([]Tool, len(c.tools))
	copy(tools, c.tools)
	return tools
}

// CallTool invokes a named tool and returns the raw result payload. The
// client makes no assumption about tool-specific result shape.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.call(ctx, "tools/call", toolCallParams{Name: name, Arguments: args}, c.timeoutFor(name))
	c.log.ToolResult(name, time.Since(start), err)
	return raw, err
}

// timeoutFor picks the deadline bound for a tool by its class.
func (c *Client) timeoutFor(tool string) time.Duration {
	if c.slow[tool] {
		return c.config.SlowCallTimeout
	}
	return c.config.CallTimeout
}

// call sends one request and suspends the caller until a correlated reply,
// the deadline, or endpoint termination, whichever first.
func (c *Client) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	framer := c.framer
	c.mu.Unlock()
	if framer == nil {
		return nil, errors.NotConnected("client not connected")
	}

	id := c.nextID.Add(1)
	p := &pendingRequest{method: method, done: make(chan outcome, 1)}

	c.pendMu.Lock()
	c.pending[id] = p
	c.pendMu.Unlock()

	if err := framer.Write(transport.NewRequest(id, method, params)); err != nil {
		c.remove(id)
		return nil, err
	}
	c.log.ToolCall(method, id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-p.done:
		if o.err != nil {
			return nil, o.err
		}
		if o.resp.Error != nil {
			return nil, errors.RemoteTool(o.resp.Error.Code, o.resp.Error.Message,
				errors.WithMethod(method), errors.WithCause(o.resp.Error))
		}
		return o.resp.Result, nil
	case <-timer.C:
		// Late replies for this id are silently ignored from here on.
		c.remove(id)
		return nil, errors.RequestTimeout(method)
	case <-ctx.Done():
		c.remove(id)
		return nil, errors.Wrap(ctx.Err(), fmt.Sprintf("%s canceled", method),
			errors.WithMethod(method))
	}
}

// dispatch resolves the pending request matching a reply's id. Replies with
// no matching entry (late or unsolicited) are dropped.
func (c *Client) dispatch(resp *transport.Response) {
	c.pendMu.Lock()
	p, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendMu.Unlock()

	if ok {
		p.done <- outcome{resp: resp}
	}
}

// remove drops a correlation table entry without resolving it.
func (c *Client) remove(id int64) {
	c.pendMu.Lock()
	delete(c.pending, id)
	c.pendMu.Unlock()
}

// failAllPending fails every outstanding request simultaneously when the
// endpoint exits. No request is left to time out naturally.
func (c *Client) failAllPending(exitCode int) {
	c.pendMu.Lock()
	taken := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.pendMu.Unlock()

	for _, p := range taken {
		p.done <- outcome{err: errors.Disconnected(
			fmt.Sprintf("endpoint exited with code %d", exitCode),
			errors.WithMethod(p.method))}
	}
	c.log.ProcessExited(exitCode, len(taken))
}

// pendingCount reports the correlation table size.
func (c *Client) pendingCount() int {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	return len(c.pending)
}

// Disconnect terminates the endpoint with a signal and fails every
// still-pending request. Idempotent: the second call is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	proc := c.proc
	framer := c.framer
	c.proc = nil
	c.framer = nil
	c.tools = nil
	c.mu.Unlock()

	if framer == nil {
		return nil
	}
	framer.Close()

	if proc != nil {
		proc.Kill()
		framer.SignalDisconnect(proc.ExitCode())
	} else {
		framer.SignalDisconnect(-1)
	}
	return nil
}
