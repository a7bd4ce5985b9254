// Package mcp provides JSON-RPC message types and codec utilities for
// the toolchest MCP server.
package mcp

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Message wraps a JSON-RPC message read off the wire. It stores both
// the raw bytes (for ID extraction and logging) and the decoded message
// (for dispatch).
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded contains the parsed JSON-RPC message.
	// May be nil if parsing failed but raw-byte inspection is still
	// desired. The concrete type is either *jsonrpc.Request or
	// *jsonrpc.Response.
	Decoded jsonrpc.Message

	// params caches the result of ParseParams.
	params map[string]any
}

// IsRequest returns true if the message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse returns true if the message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// IsNotification returns true if the message is a request that carries
// no ID. Notifications must not be answered.
func (m *Message) IsNotification() bool {
	return m.IsRequest() && m.RawID() == nil
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// Request returns the underlying Request if this is a request message.
// Returns nil if this is not a request.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying Response if this is a response message.
// Returns nil if this is not a response.
func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// ParseParams parses the request params into a map and caches the
// result, so repeated calls do not re-unmarshal. Returns nil if this is
// not a request, the request has no params, or the params are not an
// object.
func (m *Message) ParseParams() map[string]any {
	if m.params != nil {
		return m.params
	}

	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}

	var params map[string]any
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}

	m.params = params
	return params
}

// RawID extracts the request ID from the raw message bytes as json.RawMessage.
// This is needed because the SDK's jsonrpc.ID type doesn't marshal correctly
// through interface{}, so we extract the ID directly from the raw JSON.
// Returns nil if no ID is present or the raw bytes are not a JSON object.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}

	// Preserves the original format: number, string, or null.
	return raw["id"]
}
