package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goodboyai/kennel/pkg/mcp"
)

// rpcErrorEnvelope builds a bare -32000-style reply for transport-level
// failures where no request id could be read.
func rpcErrorEnvelope(code int, message string) *mcp.Response {
	return &mcp.Response{
		JSONRPC: "2.0",
		Error:   &mcp.RPCError{Code: code, Message: message},
	}
}

// handleRPC serves a JSON-RPC envelope over POST. Oversized bodies get
// 413, stalled handlers get cut off at the request timeout with 408,
// and notifications (no id) complete with 204 and no body.
func (s *Server) handleRPC(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, rpcErrorEnvelope(mcp.ServerError,
				fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)))
			return
		}
		c.JSON(http.StatusBadRequest, rpcErrorEnvelope(mcp.ServerError, "failed to read request body"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	done := make(chan *mcp.Response, 1)
	go func() { done <- s.rpc.HandleMessage(ctx, body) }()

	select {
	case resp := <-done:
		if resp == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, resp)
	case <-ctx.Done():
		c.JSON(http.StatusRequestTimeout, rpcErrorEnvelope(mcp.ServerError,
			fmt.Sprintf("request timed out after %s", s.cfg.RequestTimeout)))
	}
}
