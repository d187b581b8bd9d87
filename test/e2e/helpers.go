package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// ────────────────────────────────────────────────────────────
// JSON-RPC Helpers
// ────────────────────────────────────────────────────────────

// RPC sends one JSON-RPC request over whichever transport the app runs and
// returns the decoded response envelope.
func (app *TestApp) RPC(t *testing.T, id any, method string, params map[string]any) map[string]any {
	t.Helper()
	envelope := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		envelope["params"] = params
	}
	if app.stream != nil {
		return app.stream.roundTrip(t, envelope)
	}
	return app.postJSON(t, "/mcp", envelope, http.StatusOK)
}

// Notify sends a JSON-RPC notification. Notifications carry no id and
// produce no response.
func (app *TestApp) Notify(t *testing.T, method string) {
	t.Helper()
	envelope := map[string]any{"jsonrpc": "2.0", "method": method}
	if app.stream != nil {
		data, err := json.Marshal(envelope)
		require.NoError(t, err)
		app.stream.send(t, string(data))
		return
	}
	resp := app.post(t, "/mcp", envelope, http.StatusNoContent)
	_ = resp.Body.Close()
}

// CallTool invokes tools/call and returns the raw response envelope,
// errors included.
func (app *TestApp) CallTool(t *testing.T, id any, name string, args map[string]any) map[string]any {
	t.Helper()
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	return app.RPC(t, id, "tools/call", params)
}

// CallToolOK invokes tools/call, requires success, and returns the decoded
// text payload of the first content item.
func (app *TestApp) CallToolOK(t *testing.T, id any, name string, args map[string]any) map[string]any {
	t.Helper()
	envelope := app.CallTool(t, id, name, args)
	require.Nil(t, envelope["error"], "tools/call %s failed: %v", name, envelope["error"])
	return toolText(t, envelope)
}

// toolText digs the JSON payload out of a tools/call result envelope.
func toolText(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	result, ok := envelope["result"].(map[string]any)
	require.True(t, ok, "envelope has no result object: %v", envelope)
	content, ok := result["content"].([]any)
	require.True(t, ok, "result has no content array: %v", result)
	require.NotEmpty(t, content)
	first, ok := content[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "text", first["type"])
	text, ok := first["text"].(string)
	require.True(t, ok)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &payload), "tool payload is not JSON: %s", text)
	return payload
}

// rpcError digs the error object out of a response envelope.
func rpcError(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	errObj, ok := envelope["error"].(map[string]any)
	require.True(t, ok, "envelope has no error object: %v", envelope)
	return errObj
}

// ────────────────────────────────────────────────────────────
// HTTP Helpers
// ────────────────────────────────────────────────────────────

// GetHealth calls GET /health.
func (app *TestApp) GetHealth(t *testing.T) map[string]any {
	t.Helper()
	return app.getJSON(t, "/health", http.StatusOK)
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	resp := app.post(t, path, body, expectedStatus)
	defer func() { _ = resp.Body.Close() }()
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func (app *TestApp) post(t *testing.T, path string, body any, expectedStatus int) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status", path)
	return resp
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// check digs a named check out of a /health response.
func check(t *testing.T, health map[string]any, name string) map[string]any {
	t.Helper()
	checks, ok := health["checks"].(map[string]any)
	require.True(t, ok, "health has no checks object: %v", health)
	entry, ok := checks[name].(map[string]any)
	require.True(t, ok, "health has no %q check: %v", name, checks)
	return entry
}
