package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/tools"
)

// ────────────────────────────────────────────────────────────
// Scenario 5: Graceful Drain
// ────────────────────────────────────────────────────────────

// slowToolFactory registers a tool that holds its request open for delay
// before echoing.
func slowToolFactory(delay time.Duration) tools.Factory {
	return tools.Factory{
		Name:   "slow_echo",
		Domain: "test",
		Create: func(s tools.Services) []tools.Descriptor {
			return []tools.Descriptor{{
				Name:        "slow_echo",
				Description: "Echoes input after a delay.",
				InputSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"value": map[string]any{"type": "string"}},
				},
				Handler: func(ctx context.Context, args map[string]any) (any, error) {
					select {
					case <-time.After(delay):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					return map[string]any{"echo": args["value"]}, nil
				},
			}}
		},
	}
}

func TestE2E_GracefulDrain(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.HTTP = config.DefaultHTTPConfig()
	cfg.HTTP.DrainTimeout = 5 * time.Second
	app := NewTestApp(t, WithConfig(cfg), WithExtraTools(slowToolFactory(600*time.Millisecond)))

	// Fire a slow call, then shut down while it is in flight. The goroutine
	// only records; assertions stay on the test goroutine.
	type outcome struct {
		status   int
		envelope map[string]any
		err      error
	}
	results := make(chan outcome, 1)
	go func() {
		body, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "id": 1, "method": "tools/call",
			"params": map[string]any{
				"name":      "slow_echo",
				"arguments": map[string]any{"value": "hold the door"},
			},
		})
		resp, err := http.Post(app.BaseURL+"/mcp", "application/json", bytes.NewReader(body))
		if err != nil {
			results <- outcome{err: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()
		var envelope map[string]any
		err = json.NewDecoder(resp.Body).Decode(&envelope)
		results <- outcome{status: resp.StatusCode, envelope: envelope, err: err}
	}()

	require.Eventually(t, func() bool { return app.HTTPServer.ActiveRequests() == 1 },
		2*time.Second, 10*time.Millisecond, "slow request never landed")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, app.HTTPServer.Shutdown(shutdownCtx))
	elapsed := time.Since(start)

	// The in-flight call completed instead of being abandoned.
	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.status)
	payload := toolText(t, res.envelope)
	assert.Equal(t, "hold the door", payload["echo"])
	assert.Zero(t, app.HTTPServer.ActiveRequests())
	assert.Less(t, elapsed, cfg.HTTP.DrainTimeout)

	// The listener is gone for new connections.
	_, err := http.Get(app.BaseURL + "/health")
	require.Error(t, err)
}

// ────────────────────────────────────────────────────────────
// Scenario 6: Persistence Fallback to Memory
// ────────────────────────────────────────────────────────────

func TestE2E_MemoryFallback(t *testing.T) {
	// No database URL and no data directory: the manager lands on the
	// in-memory store and says so instead of failing startup.
	app := NewTestApp(t)

	health := app.GetHealth(t)
	assert.Equal(t, "healthy", health["status"])
	storageCheck := check(t, health, "storage")
	assert.Equal(t, "memory", storageCheck["backend"])
	for _, tier := range []string{"postgres", "file", "cache"} {
		entry, ok := storageCheck[tier].(map[string]any)
		require.True(t, ok, "storage health has no %q tier", tier)
		assert.Equal(t, "not_configured", entry["status"], tier)
	}

	// Degraded persistence still serves the full judgment pipeline.
	payload := app.CallToolOK(t, 1, "judge", map[string]any{
		"item": map[string]any{"kind": "fact", "content": "water is wet"},
	})
	found := app.CallToolOK(t, 2, "search_judgments", map[string]any{"limit": 10})
	require.EqualValues(t, 1, found["count"])
	stored, ok := found["judgments"].([]any)
	require.True(t, ok)
	assert.Equal(t, payload["judgmentId"], stored[0].(map[string]any)["judgment_id"])
}

// ────────────────────────────────────────────────────────────
// Scenario: Client-Requested Shutdown over the Stream
// ────────────────────────────────────────────────────────────

func TestE2E_ShutdownRequest(t *testing.T) {
	app := NewTestApp(t, WithConfig(streamTestConfig()))

	resp := app.RPC(t, 9, "shutdown", nil)
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "shutdown returned no result: %v", resp)
	assert.Equal(t, true, result["success"])

	select {
	case <-app.Stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown request did not reach the stop callback")
	}
}
