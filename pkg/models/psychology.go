package models

import "time"

// PsychologySnapshot is an opaque per-user state document synced by clients.
type PsychologySnapshot struct {
	UserID    string         `json:"user_id"`
	State     map[string]any `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TriggersState records when named triggers last fired and how often.
type TriggersState struct {
	LastFired map[string]time.Time `json:"last_fired,omitempty"`
	Counts    map[string]int       `json:"counts,omitempty"`
}

// Goal is a long-running autonomy objective.
type Goal struct {
	ID          string    `json:"goal_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"` // "open", "done", "abandoned"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Task is a unit of autonomy work, optionally attached to a goal.
type Task struct {
	ID        string    `json:"task_id"`
	GoalID    string    `json:"goal_id,omitempty"`
	Title     string    `json:"title"`
	Status    string    `json:"status"` // "pending", "running", "done", "failed"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notification is a message surfaced to the user by background work.
type Notification struct {
	ID        string    `json:"notification_id"`
	Level     string    `json:"level"` // "info", "warning", "alert"
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
