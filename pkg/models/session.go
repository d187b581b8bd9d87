package models

import "time"

// Session counter field names. The durable store maps these 1:1 to
// snake_case columns.
const (
	CounterJudgments = "judgments"
	CounterDigests   = "digests"
	CounterFeedback  = "feedback"
	CounterToolCalls = "tool_calls"
	CounterErrors    = "errors"
	CounterBlocked   = "blocked"
)

// SessionCounters tracks per-session activity. Counters only ever grow
// while the session is live.
type SessionCounters struct {
	Judgments int `json:"judgments"`
	Digests   int `json:"digests"`
	Feedback  int `json:"feedback"`
	ToolCalls int `json:"tool_calls"`
	Errors    int `json:"errors"`
	Blocked   int `json:"blocked"`
}

// Add increments the named counter by delta and reports whether the name
// was recognised. Negative deltas are ignored.
func (c *SessionCounters) Add(field string, delta int) bool {
	if delta < 0 {
		return false
	}
	switch field {
	case CounterJudgments:
		c.Judgments += delta
	case CounterDigests:
		c.Digests += delta
	case CounterFeedback:
		c.Feedback += delta
	case CounterToolCalls:
		c.ToolCalls += delta
	case CounterErrors:
		c.Errors += delta
	case CounterBlocked:
		c.Blocked += delta
	default:
		return false
	}
	return true
}

// Get returns the named counter's value, or -1 for unknown names.
func (c *SessionCounters) Get(field string) int {
	switch field {
	case CounterJudgments:
		return c.Judgments
	case CounterDigests:
		return c.Digests
	case CounterFeedback:
		return c.Feedback
	case CounterToolCalls:
		return c.ToolCalls
	case CounterErrors:
		return c.Errors
	case CounterBlocked:
		return c.Blocked
	}
	return -1
}

// Session is a per-(user, project) activity window with a deterministic
// identifier that is stable across restarts.
type Session struct {
	ID           string          `json:"session_id"`
	UserID       string          `json:"user_id"`
	Project      string          `json:"project"`
	Context      map[string]any  `json:"context,omitempty"`
	Counters     SessionCounters `json:"counters"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActivity time.Time       `json:"last_activity"`
}

// Key returns the cache key "userID:project".
func (s *Session) Key() string {
	return s.UserID + ":" + s.Project
}
