package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goodboyai/kennel/pkg/tools"
)

// handleToolDirectory serves the full tool catalogue.
func (s *Server) handleToolDirectory(c *gin.Context) {
	descriptors := s.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"tools": descriptors,
		"count": len(descriptors),
	})
}

// handleToolInfo serves one tool descriptor.
func (s *Server) handleToolInfo(c *gin.Context) {
	name := c.Param("name")
	desc, ok := s.registry.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown tool %q", name)})
		return
	}
	c.JSON(http.StatusOK, desc)
}

// handleToolInvoke runs a tool through the same pre/post hook pipeline as
// a JSON-RPC tools/call. A hook block comes back as 403 rather than an
// error envelope.
func (s *Server) handleToolInvoke(c *gin.Context) {
	name := c.Param("name")

	args := map[string]any{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
			return
		}
	}

	result, err := s.dispatcher.Dispatch(c.Request.Context(), name, args)
	if err != nil {
		switch {
		case tools.IsBlocked(err):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "blocked": true})
		case errors.Is(err, tools.ErrToolNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown tool %q", name)})
		case errors.Is(err, tools.ErrInvalidArguments):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"tool": name, "result": result})
}
