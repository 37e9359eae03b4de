package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version used on the wire.
const Version = "2.0"

// Request is a JSON-RPC 2.0 request expecting a correlated reply.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification. No reply is expected.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 reply, success- or error-shaped.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NewRequest builds a request envelope.
func NewRequest(id int64, method string, params interface{}) Request {
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params interface{}) Notification {
	return Notification{JSONRPC: Version, Method: method, Params: params}
}

// envelopeMarker is the substring every JSON-RPC envelope contains. Checking
// for it is a cheap pre-filter before the unmarshal; the parse attempt
// remains the source of truth.
var envelopeMarker = []byte(`"jsonrpc"`)

// LooksLikeEnvelope reports whether a line plausibly holds a JSON-RPC
// envelope and is worth parsing.
func LooksLikeEnvelope(line []byte) bool {
	return bytes.Contains(line, envelopeMarker)
}

// inbound is the union shape of anything the endpoint may write: a reply
// (ID set) or a server-originated notification (Method set, no ID).
type inbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}
