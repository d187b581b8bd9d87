package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// sseClientBuffer is the per-client queue depth. A consumer that falls
// this far behind is dropped rather than allowed to stall broadcasts.
const sseClientBuffer = 16

type sseMessage struct {
	event string
	data  []byte
}

// sseHub owns the set of connected event-stream clients. Each client is
// a buffered channel; the connection handler drains it onto the wire.
type sseHub struct {
	mu      sync.Mutex
	clients map[chan sseMessage]struct{}
	closed  bool
	logger  *slog.Logger
}

func newSSEHub(logger *slog.Logger) *sseHub {
	return &sseHub{
		clients: make(map[chan sseMessage]struct{}),
		logger:  logger,
	}
}

func (h *sseHub) add() (chan sseMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan sseMessage, sseClientBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *sseHub) remove(ch chan sseMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// broadcast fans an event out to every client. Sends never block: a full
// queue means the consumer stopped reading, so the client is dropped.
func (h *sseHub) broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("failed to encode sse event", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- sseMessage{event: event, data: data}:
		default:
			delete(h.clients, ch)
			close(ch)
			h.logger.Warn("dropped slow sse client", "event", event)
		}
	}
}

func (h *sseHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *sseHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleSSE serves one event-stream connection. The first frame is an
// `endpoint` event naming the companion JSON-RPC POST path; after that
// the handler relays hub messages and emits comment pings while idle.
func (s *Server) handleSSE(c *gin.Context) {
	ch, ok := s.sse.add()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return
	}
	defer s.sse.remove(ch)

	if s.metrics != nil {
		s.metrics.SSEClientAdd(1)
		defer s.metrics.SSEClientAdd(-1)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(c.Writer, "event: endpoint\ndata: /message\n\n"); err != nil {
		return
	}
	c.Writer.Flush()

	keepalive := time.NewTicker(s.cfg.SSEKeepalive)
	defer keepalive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.event, msg.data); err != nil {
				return
			}
			c.Writer.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
