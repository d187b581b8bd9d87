package models

import "time"

// Pattern is a recurring behavioral signature extracted from judgments.
type Pattern struct {
	ID          string    `json:"pattern_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Verdict     Verdict   `json:"verdict,omitempty"` // dominant verdict across occurrences
	Occurrences int       `json:"occurrences"`
	Examples    []string  `json:"examples,omitempty"` // judgment IDs, most recent last
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// Feedback is a user's reaction to a judgment.
type Feedback struct {
	ID         string    `json:"feedback_id"`
	JudgmentID string    `json:"judgment_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Rating     int       `json:"rating"` // 1 (worst) to 5 (best)
	Agree      *bool     `json:"agree,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// KnowledgeEntry is a stored piece of reference knowledge.
type KnowledgeEntry struct {
	ID        string    `json:"knowledge_id"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Fact is a short declarative statement with a confidence weight.
type Fact struct {
	ID         string    `json:"fact_id"`
	Subject    string    `json:"subject"`
	Statement  string    `json:"statement"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// LibraryCard is a cached ecosystem lookup result.
type LibraryCard struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Ecosystem   string    `json:"ecosystem,omitempty"`
	Homepage    string    `json:"homepage,omitempty"`
	Install     string    `json:"install,omitempty"`
	Content     string    `json:"content,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}
