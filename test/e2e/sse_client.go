package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// SSEEvent is one named frame from the event stream. Raw always holds the
// data line verbatim; Data is the decoded object when the payload is JSON.
type SSEEvent struct {
	Name string
	Raw  string
	Data map[string]any
}

// SSEClient consumes /sse frames in the background and hands them out on
// demand. Keepalive comments are discarded.
type SSEClient struct {
	events chan SSEEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenSSE connects to the app's event stream. The connection is torn down
// via t.Cleanup automatically.
func (app *TestApp) OpenSSE(t *testing.T) *SSEClient {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.BaseURL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	c := &SSEClient{
		events: make(chan SSEEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.consume(resp.Body)
	t.Cleanup(c.Close)
	return c
}

func (c *SSEClient) consume(body io.ReadCloser) {
	defer close(c.done)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	var name, raw string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			raw = strings.TrimPrefix(line, "data: ")
		case line == "":
			if name == "" {
				continue // keepalive comment
			}
			evt := SSEEvent{Name: name, Raw: raw}
			_ = json.Unmarshal([]byte(raw), &evt.Data)
			select {
			case c.events <- evt:
			default: // a test that stopped draining forfeits older frames
			}
			name, raw = "", ""
		}
	}
}

// WaitFor returns the next event with the given name, discarding others.
func (c *SSEClient) WaitFor(t *testing.T, name string, timeout time.Duration) SSEEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-c.events:
			if evt.Name == name {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %q event within %s", name, timeout)
		}
	}
}

// Drain empties the buffered event queue, returning what was pending.
func (c *SSEClient) Drain() []SSEEvent {
	var out []SSEEvent
	for {
		select {
		case evt := <-c.events:
			out = append(out, evt)
		default:
			return out
		}
	}
}

// Close cancels the stream request and waits for the reader to finish.
func (c *SSEClient) Close() {
	c.cancel()
	<-c.done
}
