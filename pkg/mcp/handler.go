package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/goodboyai/kennel/pkg/tools"
	"github.com/goodboyai/kennel/pkg/version"
)

// Handler owns the JSON-RPC method table. It is transport-agnostic: the
// stream transport and the HTTP adapter both feed it one message at a time.
type Handler struct {
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	logger     *slog.Logger
	stop       func()
}

// NewHandler wires the method table. stop is invoked by the shutdown
// method; a nil stop makes shutdown a no-op.
func NewHandler(registry *tools.Registry, dispatcher *tools.Dispatcher, logger *slog.Logger, stop func()) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger.With("component", "mcp"),
		stop:       stop,
	}
}

func successResponse(id, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id any, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// HandleMessage processes one raw JSON-RPC message and returns the reply,
// or nil when the message is a notification.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte) *Response {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errorResponse(nil, ParseError, fmt.Sprintf("parse error: %v", err))
	}

	id := env.decodedID()
	if env.JSONRPC != "2.0" {
		return errorResponse(id, InvalidRequest, `invalid request: jsonrpc must be "2.0"`)
	}
	if env.Method == "" {
		return errorResponse(id, InvalidRequest, "invalid request: missing method")
	}

	// Messages without an id field are notifications and never get a
	// reply, whatever their method.
	if !env.hasID() {
		h.handleNotification(env.Method)
		return nil
	}

	resp := h.dispatch(ctx, id, env.Method, env.Params)
	return enforceResponseSize(resp, h.logger)
}

func (h *Handler) handleNotification(method string) {
	switch method {
	case "initialized", "notifications/initialized":
		h.logger.Debug("client initialized")
	default:
		h.logger.Debug("ignoring notification", "method", method)
	}
}

func (h *Handler) dispatch(ctx context.Context, id any, method string, params json.RawMessage) *Response {
	switch method {
	case "initialize":
		return successResponse(id, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: Capabilities{
				Tools:     map[string]any{},
				Resources: map[string]any{},
				Prompts:   map[string]any{},
			},
			ServerInfo: ServerInfo{Name: version.AppName, Version: version.Semver},
		})

	case "initialized", "notifications/initialized":
		// Normally a notification; a client that attaches an id still
		// deserves an acknowledgement.
		return successResponse(id, map[string]any{})

	case "tools/list":
		return successResponse(id, map[string]any{"tools": h.toolInfos()})

	case "tools/call":
		return h.callTool(ctx, id, params)

	case "resources/list":
		return successResponse(id, map[string]any{"resources": []any{}})

	case "prompts/list":
		return successResponse(id, map[string]any{"prompts": []any{}})

	case "ping":
		return successResponse(id, map[string]any{
			"pong":      true,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})

	case "shutdown":
		h.logger.Info("shutdown requested via rpc")
		if h.stop != nil {
			// Detached so the success reply reaches the client before
			// the transports wind down.
			go h.stop()
		}
		return successResponse(id, map[string]any{"success": true})

	default:
		return errorResponse(id, MethodNotFound, fmt.Sprintf("method not found: %s", method))
	}
}

func (h *Handler) toolInfos() []ToolInfo {
	descs := h.registry.List()
	infos := make([]ToolInfo, 0, len(descs))
	for _, d := range descs {
		infos = append(infos, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return infos
}

func (h *Handler) callTool(ctx context.Context, id any, params json.RawMessage) *Response {
	var call CallToolParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &call); err != nil {
			return errorResponse(id, InvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}
	if call.Name == "" {
		return errorResponse(id, InvalidParams, "invalid params: missing tool name")
	}

	result, err := h.dispatcher.Dispatch(ctx, call.Name, call.Arguments)
	if err != nil {
		// Application failures, including hook blocks, surface as -32000
		// with the error text intact.
		return errorResponse(id, ServerError, err.Error())
	}

	text, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, ServerError, fmt.Sprintf("failed to serialize tool result: %v", err))
	}
	return successResponse(id, ToolResult{
		Content: []ContentItem{{Type: "text", Text: string(text)}},
	})
}
