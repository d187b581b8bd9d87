package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodboyai/kennel/pkg/hooks"
	"github.com/goodboyai/kennel/pkg/tools"
	"github.com/goodboyai/kennel/pkg/version"
)

// newTestHandler builds a handler over a real registry and the default
// collective, so guardian blocks behave exactly as in production.
func newTestHandler(t *testing.T, stop func()) *Handler {
	t.Helper()

	registry := tools.NewRegistry(nil)
	require.NoError(t, registry.Register(tools.Factory{
		Name:   "test",
		Domain: "brain",
		Create: func(tools.Services) []tools.Descriptor {
			return []tools.Descriptor{
				{
					Name:        "echo",
					Description: "Echo the arguments back.",
					InputSchema: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"value": map[string]any{"type": "string"},
						},
					},
					Handler: func(_ context.Context, args map[string]any) (any, error) {
						return map[string]any{"echo": args["value"]}, nil
					},
				},
				{
					Name:        "dangerous",
					Description: "Blocked by the guardian before it ever runs.",
					Handler: func(context.Context, map[string]any) (any, error) {
						return map[string]any{"ran": true}, nil
					},
				},
				{
					Name: "failing",
					Handler: func(context.Context, map[string]any) (any, error) {
						return nil, fmt.Errorf("backend exploded")
					},
				},
			}
		},
	}))
	registry.CreateAll(tools.Services{})

	dispatcher := tools.NewDispatcher(registry, hooks.NewDefaultCollective(), nil, nil, nil)
	return NewHandler(registry, dispatcher, nil, stop)
}

func handle(t *testing.T, h *Handler, raw string) *Response {
	t.Helper()
	return h.HandleMessage(context.Background(), []byte(raw))
}

func TestHandler_Initialize(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := handle(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, float64(1), resp.ID)

	result, ok := resp.Result.(InitializeResult)
	require.True(t, ok)
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, version.AppName, result.ServerInfo.Name)
	assert.Equal(t, version.Semver, result.ServerInfo.Version)
	assert.NotNil(t, result.Capabilities.Tools)
	assert.NotNil(t, result.Capabilities.Resources)
	assert.NotNil(t, result.Capabilities.Prompts)
}

func TestHandler_EnvelopeValidation(t *testing.T) {
	h := newTestHandler(t, nil)

	tests := []struct {
		name     string
		raw      string
		wantCode int
	}{
		{name: "parse error", raw: `{not json`, wantCode: ParseError},
		{name: "wrong version", raw: `{"jsonrpc":"1.0","id":1,"method":"ping"}`, wantCode: InvalidRequest},
		{name: "missing version", raw: `{"id":1,"method":"ping"}`, wantCode: InvalidRequest},
		{name: "missing method", raw: `{"jsonrpc":"2.0","id":1}`, wantCode: InvalidRequest},
		{name: "unknown method", raw: `{"jsonrpc":"2.0","id":1,"method":"bogus"}`, wantCode: MethodNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := handle(t, h, tt.raw)
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestHandler_NotificationDetection(t *testing.T) {
	h := newTestHandler(t, nil)

	// No id field at all: a notification, even for request methods.
	assert.Nil(t, handle(t, h, `{"jsonrpc":"2.0","method":"initialized"}`))
	assert.Nil(t, handle(t, h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, handle(t, h, `{"jsonrpc":"2.0","method":"tools/list"}`))

	// An explicit null id is still a request and gets a reply.
	resp := handle(t, h, `{"jsonrpc":"2.0","id":null,"method":"ping"}`)
	require.NotNil(t, resp)
	assert.Nil(t, resp.ID)
	require.Nil(t, resp.Error)
}

func TestHandler_ToolsList(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := handle(t, h, `{"jsonrpc":"2.0","id":"list-1","method":"tools/list"}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, "list-1", resp.ID)

	result := resp.Result.(map[string]any)
	infos := result["tools"].([]ToolInfo)
	require.Len(t, infos, 3)
	assert.Equal(t, "echo", infos[0].Name)
	assert.Equal(t, "Echo the arguments back.", infos[0].Description)
	assert.NotNil(t, infos[0].InputSchema)
}

func TestHandler_ToolsCall(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := handle(t, h, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"value":"woof"}}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(ToolResult)
	require.True(t, ok)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &decoded))
	assert.Equal(t, "woof", decoded["echo"])
}

func TestHandler_ToolsCallErrors(t *testing.T) {
	h := newTestHandler(t, nil)

	tests := []struct {
		name     string
		raw      string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "unknown tool",
			raw:      `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"missing"}}`,
			wantCode: ServerError,
			wantMsg:  "tool not found",
		},
		{
			name:     "missing name",
			raw:      `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{}}`,
			wantCode: InvalidParams,
			wantMsg:  "missing tool name",
		},
		{
			name:     "malformed params",
			raw:      `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":42}}`,
			wantCode: InvalidParams,
			wantMsg:  "invalid params",
		},
		{
			name:     "handler failure",
			raw:      `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"failing"}}`,
			wantCode: ServerError,
			wantMsg:  "backend exploded",
		},
		{
			name:     "schema violation",
			raw:      `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo","arguments":{"value":42}}}`,
			wantCode: ServerError,
			wantMsg:  "invalid arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := handle(t, h, tt.raw)
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.wantMsg)
		})
	}
}

func TestHandler_BlockedToolCall(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := handle(t, h, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"dangerous"}}`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ServerError, resp.Error.Code)
	assert.True(t, strings.HasPrefix(resp.Error.Message, "[BLOCKED]"), resp.Error.Message)
	assert.Contains(t, resp.Error.Message, "guardian")
}

func TestHandler_EmptyCollections(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := handle(t, h, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	require.Nil(t, resp.Error)
	assert.Empty(t, resp.Result.(map[string]any)["resources"])

	resp = handle(t, h, `{"jsonrpc":"2.0","id":2,"method":"prompts/list"}`)
	require.Nil(t, resp.Error)
	assert.Empty(t, resp.Result.(map[string]any)["prompts"])
}

func TestHandler_Ping(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := handle(t, h, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	assert.Equal(t, true, result["pong"])
	assert.NotEmpty(t, result["timestamp"])
}

func TestHandler_Shutdown(t *testing.T) {
	stopped := make(chan struct{})
	h := newTestHandler(t, func() { close(stopped) })

	resp := handle(t, h, `{"jsonrpc":"2.0","id":1,"method":"shutdown"}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, true, resp.Result.(map[string]any)["success"])

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop callback was not invoked")
	}
}

func TestHandler_ResponseSerialization(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := handle(t, h, `{"jsonrpc":"2.0","id":null,"method":"prompts/list"}`)
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	// A null id must survive serialization; result-bearing replies carry
	// no error key.
	assert.Contains(t, string(data), `"id":null`)
	assert.NotContains(t, string(data), `"error"`)
}
