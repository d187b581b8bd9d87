package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/hooks"
	"github.com/goodboyai/kennel/pkg/mcp"
	"github.com/goodboyai/kennel/pkg/metrics"
	"github.com/goodboyai/kennel/pkg/session"
	"github.com/goodboyai/kennel/pkg/storage"
	"github.com/goodboyai/kennel/pkg/tools"
)

// newTestServer builds the adapter over a real in-memory stack: memory
// store, live bus, default collective. Tests tweak cfg/deps via mutate.
func newTestServer(t *testing.T, mutate func(*Deps, *config.HTTPConfig)) *Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := bus.New()
	store := storage.NewManagerWithStore(storage.NewMemoryStore(), logger)
	sessions := session.NewManager(store, nil, events, logger)

	registry := tools.NewRegistry(logger)
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
					Description: "Denied by the guardian before it runs.",
					Handler: func(context.Context, map[string]any) (any, error) {
						return map[string]any{"ran": true}, nil
					},
				},
				{
					Name:        "slow",
					Description: "Sleeps until cancelled.",
					Handler: func(ctx context.Context, _ map[string]any) (any, error) {
						select {
						case <-ctx.Done():
							return nil, ctx.Err()
						case <-time.After(2 * time.Second):
							return "done", nil
						}
					},
				},
			}
		},
	}))
	registry.CreateAll(tools.Services{})

	collective := hooks.NewDefaultCollective()
	dispatcher := tools.NewDispatcher(registry, collective, sessions, events, logger)

	cfg := config.DefaultHTTPConfig()
	deps := Deps{
		RPC:        mcp.NewHandler(registry, dispatcher, logger, nil),
		Registry:   registry,
		Dispatcher: dispatcher,
		Collective: collective,
		Store:      store,
		Sessions:   sessions,
		Metrics:    metrics.New(),
		Events:     events,
		Logger:     logger,
	}
	if mutate != nil {
		mutate(&deps, cfg)
	}
	return NewServer(cfg, deps)
}

// doRequest runs one request through the engine without a real socket.
func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(t, s, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "not found", body["error"])
	assert.Equal(t, "/nope", body["path"])
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("preflight returns 204", func(t *testing.T) {
		w := doRequest(t, s, http.MethodOptions, "/mcp", nil)
		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("normal responses carry the origin header", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestServer_StartServesAndShutsDown(t *testing.T) {
	s := newTestServer(t, nil)

	require.NoError(t, s.Start("127.0.0.1:0"))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	// The listener is gone; new connections must fail.
	_, err = http.Get("http://" + addr + "/health")
	assert.Error(t, err)
}

func TestServer_StartRejectsBusyPort(t *testing.T) {
	s1 := newTestServer(t, nil)
	require.NoError(t, s1.Start("127.0.0.1:0"))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s1.Shutdown(ctx)
	}()

	s2 := newTestServer(t, nil)
	err := s2.Start(s1.Addr())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestServer_ShutdownBeforeStartIsSafe(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestServer_RequestMetricsRecorded(t *testing.T) {
	s := newTestServer(t, nil)

	before := s.metrics.Snapshot().HTTPRequests
	doRequest(t, s, http.MethodGet, "/health", nil)
	doRequest(t, s, http.MethodGet, "/api/tools", nil)

	assert.Equal(t, before+2, s.metrics.Snapshot().HTTPRequests)
	assert.Zero(t, s.ActiveRequests())
}
