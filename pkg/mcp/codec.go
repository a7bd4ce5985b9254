package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data into a message.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the
// message content. This delegates to the MCP SDK's jsonrpc package.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message.
//
// If decoding fails, returns an error. For scenarios where the raw
// bytes should still be inspected after a decode failure (ID extraction
// for an error reply), callers can construct a Message manually.
func WrapMessage(raw []byte) (*Message, error) {
	decoded, err := DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:     raw,
		Decoded: decoded,
	}, nil
}
