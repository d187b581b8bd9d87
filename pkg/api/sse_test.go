package api

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/config"
)

func newTestHub() *sseHub {
	return newSSEHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSSEHub_Broadcast(t *testing.T) {
	hub := newTestHub()

	ch, ok := hub.add()
	require.True(t, ok)
	assert.Equal(t, 1, hub.count())

	hub.broadcast("judgment:created", map[string]any{"id": "jdg_1"})

	msg := <-ch
	assert.Equal(t, "judgment:created", msg.event)
	assert.JSONEq(t, `{"id":"jdg_1"}`, string(msg.data))
}

func TestSSEHub_DropsSlowClient(t *testing.T) {
	hub := newTestHub()

	ch, ok := hub.add()
	require.True(t, ok)

	// Fill the buffer without draining, then push one more.
	for i := 0; i < sseClientBuffer; i++ {
		hub.broadcast("tool_post", i)
	}
	hub.broadcast("tool_post", "overflow")

	assert.Equal(t, 0, hub.count())

	// The dropped client's channel is closed once drained.
	got := 0
	for range ch {
		got++
	}
	assert.Equal(t, sseClientBuffer, got)
}

func TestSSEHub_CloseAll(t *testing.T) {
	hub := newTestHub()

	ch, ok := hub.add()
	require.True(t, ok)

	hub.closeAll()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.count())

	_, ok = hub.add()
	assert.False(t, ok, "closed hub must reject new clients")
}

func TestSSEHub_RemoveIsIdempotent(t *testing.T) {
	hub := newTestHub()

	ch, ok := hub.add()
	require.True(t, ok)

	hub.remove(ch)
	hub.remove(ch)
	assert.Equal(t, 0, hub.count())
}

// readSSEFrame reads one event/data frame, skipping comment keepalives.
func readSSEFrame(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestHandleSSE_Stream(t *testing.T) {
	s := newTestServer(t, func(_ *Deps, cfg *config.HTTPConfig) {
		cfg.SSEKeepalive = 50 * time.Millisecond
	})
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+s.Addr()+"/sse", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// First frame names the companion JSON-RPC path.
	event, data := readSSEFrame(t, reader)
	assert.Equal(t, "endpoint", event)
	assert.Equal(t, "/message", data)
	assert.Equal(t, 1, s.sse.count())

	// Bus events are mirrored onto the stream.
	s.events.Publish(bus.TopicJudgmentCreated, map[string]any{"verdict": "WAG"})
	event, data = readSSEFrame(t, reader)
	assert.Equal(t, "judgment:created", event)
	assert.Contains(t, data, `"verdict":"WAG"`)

	// An idle stream gets comment pings.
	found := false
	idleDeadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(idleDeadline) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, ": ping") {
			found = true
			break
		}
	}
	assert.True(t, found, "expected a keepalive ping on the idle stream")
}

func TestHandleSSE_ShutdownEndsStream(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.Start("127.0.0.1:0"))

	resp, err := http.Get("http://" + s.Addr() + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	event, _ := readSSEFrame(t, reader)
	require.Equal(t, "endpoint", event)

	streamDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		close(streamDone)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case <-streamDone:
	case <-time.After(3 * time.Second):
		t.Fatal("sse stream still open after shutdown")
	}
	assert.Equal(t, 0, s.sse.count())
}

func TestHandleSSE_ClientDisconnectUnregisters(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+s.Addr()+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	event, _ := readSSEFrame(t, reader)
	require.Equal(t, "endpoint", event)
	require.Equal(t, 1, s.sse.count())

	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return s.sse.count() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
