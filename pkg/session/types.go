package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/goodboyai/kennel/pkg/models"
)

// Defaults applied when a caller omits identity fields.
const (
	DefaultUser    = "local"
	DefaultProject = "default"
)

// ReasonNotFound is returned by End for unknown session IDs.
const ReasonNotFound = "session_not_found"

// ID derives the deterministic session identifier for a (user, project)
// pair: "ses_" plus the first 16 hex characters of SHA-256("user:project").
// Stable across restarts, so reconnecting clients land in the same
// logical session.
func ID(userID, project string) string {
	sum := sha256.Sum256([]byte(userID + ":" + project))
	return "ses_" + hex.EncodeToString(sum[:])[:16]
}

// Cache is the optional fast tier in front of the durable repository.
// *storage.RedisStore satisfies it.
type Cache interface {
	SetSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// EndResult reports the outcome of ending a session.
type EndResult struct {
	Ended     bool                    `json:"ended"`
	SessionID string                  `json:"session_id,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	Counters  *models.SessionCounters `json:"counters,omitempty"`
}

// Summary is a point-in-time view of the live session table.
type Summary struct {
	ActiveSessions int               `json:"active_sessions"`
	Current        string            `json:"current_session,omitempty"`
	Sessions       []*models.Session `json:"sessions"`
}
