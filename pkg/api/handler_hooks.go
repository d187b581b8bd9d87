package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/hooks"
)

// handleHookEvent forwards an externally posted hook into the collective
// and mirrors it onto the bus: a generic hook:received for every event,
// plus the typed tool_pre / tool_post for tool hooks.
func (s *Server) handleHookEvent(c *gin.Context) {
	var evt hooks.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hook event: " + err.Error()})
		return
	}
	if !evt.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown hookType %q", evt.Type)})
		return
	}

	resp, err := s.collective.ReceiveHookEvent(c.Request.Context(), evt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.metrics != nil {
		s.metrics.RecordHookEvent(string(evt.Type))
	}

	s.publish(bus.TopicHookReceived, map[string]any{
		"hookType":  string(evt.Type),
		"tool":      evt.Payload.Tool,
		"sessionId": evt.Payload.SessionID,
	})
	switch evt.Type {
	case hooks.PreToolUse:
		s.publish(bus.TopicToolPre, map[string]any{
			"tool":      evt.Payload.Tool,
			"toolUseId": evt.Payload.ToolUseID,
			"timestamp": time.Now().UTC(),
		})
	case hooks.PostToolUse:
		payload := map[string]any{
			"tool":       evt.Payload.Tool,
			"toolUseId":  evt.Payload.ToolUseID,
			"durationMs": evt.Payload.DurationMs,
			"timestamp":  time.Now().UTC(),
		}
		if evt.Payload.Success != nil {
			payload["success"] = *evt.Payload.Success
		}
		s.publish(bus.TopicToolPost, payload)
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) publish(topic string, payload any) {
	if s.events == nil {
		return
	}
	s.events.Publish(topic, payload, bus.WithSource("api"))
}
