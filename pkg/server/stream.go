package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/goodboyai/kennel/pkg/mcp"
)

// maxFrameBytes caps one line-delimited JSON-RPC frame. A longer line is a
// protocol violation and aborts the read loop.
const maxFrameBytes = 1 << 20

// StreamTransport speaks line-delimited JSON-RPC over a byte stream: one
// envelope per newline-terminated line, whitespace-only lines ignored.
// This is the transport used when the server runs as a child process of
// an assistant, so nothing but envelopes may be written to out.
type StreamTransport struct {
	rpc    *mcp.Handler
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	// writeMu serialises response frames so concurrent writers can never
	// interleave partial lines.
	writeMu sync.Mutex
}

func NewStreamTransport(rpc *mcp.Handler, in io.Reader, out io.Writer, logger *slog.Logger) *StreamTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamTransport{
		rpc:    rpc,
		in:     in,
		out:    out,
		logger: logger.With("component", "stream"),
	}
}

// Run reads frames until end of stream, ctx cancellation, or a read error,
// and writes one response line per request. Notifications produce no
// output. onStop runs exactly once when the loop exits, whatever the
// cause; end-of-stream is how a departing client shuts the server down.
func (t *StreamTransport) Run(ctx context.Context, onStop func()) error {
	defer func() {
		if onStop != nil {
			onStop()
		}
	}()

	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// The scanner reuses its buffer on the next Scan, so the handler
		// gets its own copy.
		frame := make([]byte, len(line))
		copy(frame, line)

		resp := t.rpc.HandleMessage(ctx, frame)
		if resp == nil {
			continue
		}
		if err := t.write(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}

	t.logger.Info("stream closed")
	return nil
}

func (t *StreamTransport) write(resp *mcp.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.out.Write(append(body, '\n'))
	return err
}
