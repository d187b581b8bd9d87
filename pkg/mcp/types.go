// Package mcp implements the server side of the Model Context Protocol:
// JSON-RPC 2.0 envelopes, the method table, and response size enforcement.
package mcp

import "encoding/json"

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// ServerError carries application failures: tool errors, hook blocks,
	// and everything else raised inside a handler.
	ServerError = -32000
)

// envelope is the raw decoded request. ID keeps the raw bytes so a present
// "id": null is distinguishable from an absent id: only messages without
// the field are notifications.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (e *envelope) hasID() bool {
	return len(e.ID) > 0
}

// decodedID returns the unmarshalled id value (string, number, or nil).
func (e *envelope) decodedID() any {
	if !e.hasID() {
		return nil
	}
	var id any
	if err := json.Unmarshal(e.ID, &id); err != nil {
		return nil
	}
	return id
}

// Response is one JSON-RPC reply. ID is always emitted, even when null.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// InitializeResult answers the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Capabilities advertises the feature map. Empty objects mean "supported,
// no sub-options".
type Capabilities struct {
	Tools     map[string]any `json:"tools"`
	Resources map[string]any `json:"resources"`
	Prompts   map[string]any `json:"prompts"`
}

// ServerInfo identifies this server in the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolInfo is one tools/list entry.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// CallToolParams are the tools/call parameters.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the MCP content envelope wrapping a tool's return value.
type ToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentItem is one block inside a tool result.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
