// Package mcpsrv exposes the tool registry over the Model Context
// Protocol's stdio transport. Every cached tool is advertised as an MCP
// tool and tools/call invocations run through the registry's execution
// pipeline. Stdout carries the protocol stream, so all logging must go
// to stderr.
package mcpsrv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/pkg/mcp"
)

// protocolVersion is the MCP protocol revision this server speaks.
const protocolVersion = "2025-06-18"

// JSON-RPC error codes used by the server.
const (
	// errCodeParse is returned when a line is not valid JSON-RPC.
	errCodeParse int64 = -32700
	// errCodeInvalidRequest is returned when a request is structurally wrong.
	errCodeInvalidRequest int64 = -32600
	// errCodeMethodNotFound is returned for unknown methods and unknown tools.
	errCodeMethodNotFound int64 = -32601
	// errCodeInternal is returned when the registry itself fails.
	errCodeInternal int64 = -32603
)

// ToolSource is the slice of the registry the MCP server needs: the
// advertised tool list and the execution pipeline. *service.ToolRegistry
// satisfies it.
type ToolSource interface {
	// GetTool looks up a tool by name.
	GetTool(ctx context.Context, name string) (*tool.Tool, error)
	// ListTools returns the tools passing the filter.
	ListTools(ctx context.Context, filter tool.Filter) ([]*tool.Tool, error)
	// ExecuteTool runs a tool; failures come back inside the result.
	ExecuteTool(ctx context.Context, name string, input map[string]any) *tool.ExecutionResult
}

// Server answers MCP requests from a newline-delimited JSON-RPC stream.
// Because tools/list reads the registry on every call, tools created,
// updated, or deleted through the HTTP API show up on the client's next
// refresh without a restart.
type Server struct {
	tools   ToolSource
	version string
	logger  *slog.Logger
}

// NewServer creates an MCP server backed by the given tool source.
func NewServer(tools ToolSource, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		tools:   tools,
		version: version,
		logger:  logger,
	}
}

// Start serves MCP over stdin/stdout. It blocks until stdin closes or
// the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("MCP server listening on stdio", "version", s.version)
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads newline-delimited JSON-RPC messages from in and writes
// responses to out. It returns when in is exhausted, the context is
// cancelled, or a write fails.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	// Use a large buffer for the scanner (tool results and schemas can
	// be large). Per MCP spec, messages are newline-delimited JSON.
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 256*1024) // 256KB initial
	scanner.Buffer(buf, 1024*1024)   // 1MB max

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		resp := s.handle(ctx, raw)
		if resp == nil {
			continue
		}

		if _, err := out.Write(resp); err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		if _, err := out.Write([]byte("\n")); err != nil {
			return fmt.Errorf("write newline failed: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan error: %w", err)
	}

	s.logger.Info("client stream closed")
	return nil
}

// handle processes one raw JSON-RPC line and returns the encoded
// response, or nil when no response is due (notifications, dropped
// traffic).
func (s *Server) handle(ctx context.Context, raw []byte) []byte {
	start := time.Now()

	msg, err := mcp.WrapMessage(append([]byte(nil), raw...))
	if err != nil {
		s.logger.Debug("undecodable message", "error", err)
		// The codec rejected the line, but the ID may still be
		// recoverable from the raw bytes for the error reply.
		broken := &mcp.Message{Raw: raw}
		return s.errorResponse(broken.RawID(), errCodeParse, fmt.Sprintf("Parse error: %v", err))
	}

	req := msg.Request()
	if req == nil {
		// Responses have no business on a server-bound stream.
		s.logger.Debug("dropping non-request message")
		return nil
	}

	id := msg.RawID()

	var resp []byte
	switch req.Method {
	case "initialize":
		resp = s.handleInitialize(id)
	case "notifications/initialized", "initialized":
		// Handshake acknowledgement. Usually a notification; answer
		// only when the client attached an ID.
		if id != nil {
			resp = s.resultResponse(id, map[string]any{})
		}
	case "ping":
		resp = s.resultResponse(id, map[string]any{})
	case "tools/list":
		resp = s.handleToolsList(ctx, id)
	case "tools/call":
		resp = s.handleToolsCall(ctx, id, msg)
	default:
		if msg.IsNotification() {
			s.logger.Debug("ignoring notification", "method", req.Method)
			return nil
		}
		resp = s.errorResponse(id, errCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}

	s.logger.Debug("answered message",
		"method", req.Method,
		"latency_us", time.Since(start).Microseconds(),
	)
	return resp
}

// handleInitialize answers the MCP handshake with the server's identity
// and its tool capability.
func (s *Server) handleInitialize(id json.RawMessage) []byte {
	result := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "toolchest",
			"version": s.version,
		},
	}
	return s.resultResponse(id, result)
}

// handleToolsList advertises every registered tool, sorted by name.
func (s *Server) handleToolsList(ctx context.Context, id json.RawMessage) []byte {
	all, err := s.tools.ListTools(ctx, tool.Filter{})
	if err != nil {
		s.logger.Error("listing tools failed", "error", err)
		return s.errorResponse(id, errCodeInternal, "Internal error: tool listing failed")
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Name < all[j].Name
	})

	entries := make([]toolEntry, 0, len(all))
	for _, t := range all {
		entry := toolEntry{
			Name:        t.Name,
			Description: t.Description,
		}
		if t.InputSchema != nil {
			if schemaJSON, err := json.Marshal(t.InputSchema); err == nil {
				entry.InputSchema = schemaJSON
			}
		}
		entries = append(entries, entry)
	}

	return s.resultResponse(id, toolsListResult{Tools: entries})
}

// handleToolsCall runs a registered tool through the execution
// pipeline. Tool-level failures (validation, runtime errors) come back
// as isError results rather than protocol errors; only an unknown tool
// or a registry fault becomes a JSON-RPC error.
func (s *Server) handleToolsCall(ctx context.Context, id json.RawMessage, msg *mcp.Message) []byte {
	params := msg.ParseParams()
	if params == nil {
		return s.errorResponse(id, errCodeInvalidRequest, "Invalid request: params must be an object")
	}

	name, _ := params["name"].(string)
	if name == "" {
		s.logger.Warn("tools/call missing tool name")
		return s.errorResponse(id, errCodeMethodNotFound, "Tool not found: (empty name)")
	}

	if _, err := s.tools.GetTool(ctx, name); err != nil {
		if errors.Is(err, tool.ErrToolNotFound) {
			s.logger.Warn("tool not found", "tool", name)
			return s.errorResponse(id, errCodeMethodNotFound, fmt.Sprintf("Tool not found: %s", name))
		}
		s.logger.Error("tool lookup failed", "tool", name, "error", err)
		return s.errorResponse(id, errCodeInternal, "Internal error: tool lookup failed")
	}

	args, _ := params["arguments"].(map[string]any)

	s.logger.Debug("executing tool", "tool", name)
	result := s.tools.ExecuteTool(ctx, name, args)

	return s.resultResponse(id, toCallResult(result))
}

// toCallResult converts an execution result into MCP tool-call content:
// a single text block carrying the output, JSON-encoded unless the tool
// returned a plain string.
func toCallResult(result *tool.ExecutionResult) toolCallResult {
	if !result.Success {
		return toolCallResult{
			Content: []contentBlock{{Type: "text", Text: result.Error}},
			IsError: true,
		}
	}

	var text string
	switch v := result.Result.(type) {
	case nil:
		// Tool succeeded without output; an empty text block keeps the
		// content array non-empty as clients expect.
	case string:
		text = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return toolCallResult{
				Content: []contentBlock{{Type: "text", Text: fmt.Sprintf("encoding result: %v", err)}},
				IsError: true,
			}
		}
		text = string(encoded)
	}

	return toolCallResult{
		Content: []contentBlock{{Type: "text", Text: text}},
	}
}

// resultResponse builds a JSON-RPC success envelope around result.
func (s *Server) resultResponse(id json.RawMessage, result any) []byte {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to marshal result", "error", err)
		return s.errorResponse(id, errCodeInternal, "Internal error: response encoding failed")
	}

	resp := jsonRPCResult{
		JSONRPC: "2.0",
		Result:  resultJSON,
	}
	if id != nil {
		resp.ID = id
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", "error", err)
		return nil
	}
	return raw
}

// errorResponse builds a JSON-RPC error envelope.
func (s *Server) errorResponse(id json.RawMessage, code int64, message string) []byte {
	resp := jsonRPCError{
		JSONRPC: "2.0",
		Error: jsonRPCErrorDetail{
			Code:    code,
			Message: message,
		},
	}
	if id != nil {
		resp.ID = id
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal error response", "error", err)
		return nil
	}
	return raw
}

// --- JSON response types ---

type jsonRPCResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result"`
}

type jsonRPCError struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      json.RawMessage    `json:"id,omitempty"`
	Error   jsonRPCErrorDetail `json:"error"`
}

type jsonRPCErrorDetail struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type toolEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type toolsListResult struct {
	Tools []toolEntry `json:"tools"`
}

type toolCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
