package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goodboyai/kennel/pkg/models"
)

// handlePsychologySync stores a psychology snapshot keyed by user.
func (s *Server) handlePsychologySync(c *gin.Context) {
	var snap models.PsychologySnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid snapshot: " + err.Error()})
		return
	}
	if snap.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	if err := s.store.SavePsychology(c.Request.Context(), &snap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "user_id": snap.UserID})
}

// handlePsychologyLoad fetches the stored snapshot for ?userId=. Absence
// is a 404, not an empty document.
func (s *Server) handlePsychologyLoad(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
		return
	}

	snap, _ := s.store.LoadPsychology(c.Request.Context(), userID)
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no psychology snapshot for %q", userID)})
		return
	}
	c.JSON(http.StatusOK, snap)
}
