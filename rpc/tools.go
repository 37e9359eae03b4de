package rpc

import (
	"encoding/json"

	"parley/errors"
)

// Tool is an immutable descriptor of a named remote operation. Populated
// once during handshake-time discovery and cached for the client's
// lifetime.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// initializeParams is the payload of the initialize request.
type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      clientInfo             `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// toolsListResult is the result of tools/list.
type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

// toolCallParams are the parameters for tools/call.
type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolCallResult is the conventional shape of a tools/call result. The
// client itself returns the raw payload; this decoder is for callers that
// speak the content convention.
type ToolCallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"` // base64 for binary payloads
}

// DecodeToolResult parses a raw tool result into the content convention.
func DecodeToolResult(raw json.RawMessage) (*ToolCallResult, error) {
	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.InvalidInput("tool result is not content-shaped", errors.WithCause(err))
	}
	return &result, nil
}

// Text concatenates the text items of a tool result.
func (r *ToolCallResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type == "text" {
			out += c.Text
		}
	}
	return out
}
