package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goodboyai/kennel/pkg/storage"
)

const healthProbeTimeout = 5 * time.Second

// handleHealth aggregates per-subsystem status. Only the active storage
// backend is critical; everything else is reported as-is.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	status := "healthy"
	checks := gin.H{}

	if s.store != nil {
		sh := s.store.HealthCheck(ctx)
		checks["storage"] = sh
		if activeStoreUnhealthy(sh) {
			status = "unhealthy"
		}
	}
	if s.chain != nil {
		checks["chain"] = s.chain.Stats()
	}
	if s.judge != nil {
		checks["judge"] = s.judge.Health()
	}
	if s.anchorer != nil {
		checks["anchoring"] = s.anchorer.Health()
	}
	if s.discovery != nil {
		checks["discovery"] = s.discovery.Health()
	}
	if s.scheduler != nil {
		checks["scheduler"] = s.scheduler.Health()
	}
	if s.sessions != nil {
		checks["sessions"] = gin.H{"active": s.sessions.GetSummary().ActiveSessions}
	}
	if s.registry != nil {
		checks["tools"] = gin.H{"count": len(s.registry.List())}
	}
	checks["sse"] = gin.H{"clients": s.sse.count()}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": "kennel",
		"checks":  checks,
	})
}

// activeStoreUnhealthy reports whether the backend actually serving reads
// and writes failed its probe. Cache trouble alone never flips health;
// the fallback chain keeps serving without it.
func activeStoreUnhealthy(h *storage.Health) bool {
	switch h.Backend {
	case storage.BackendDurable:
		return h.Postgres.Status != storage.StatusHealthy
	case storage.BackendFile:
		return h.File.Status != storage.StatusHealthy
	default:
		return false
	}
}
