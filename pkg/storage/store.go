// Package storage implements the persistence fallback chain: a durable
// Postgres store, a single-document filesystem store, and an ephemeral
// memory store, all behind one uniform contract.
package storage

import (
	"context"
	"time"

	"github.com/goodboyai/kennel/pkg/models"
)

// Backend labels reported by Manager.Backend and the health snapshot.
const (
	BackendDurable = "durable"
	BackendFile    = "file"
	BackendMemory  = "memory"
)

// JudgmentFilter narrows a judgment search. Zero values match everything.
type JudgmentFilter struct {
	Query     string // substring match over reasoning and item text
	Verdict   models.Verdict
	SessionID string
	UserID    string
	Since     time.Time
	Limit     int // defaulted to DefaultSearchLimit when <= 0
}

// DefaultSearchLimit caps searches that do not specify a limit.
const DefaultSearchLimit = 20

// MaxSearchLimit is the hard ceiling on any single search.
const MaxSearchLimit = 100

// clampLimit applies the default and ceiling to a requested limit.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// JudgmentStore persists judgment records.
// Lookups return (nil, nil) when the judgment does not exist.
type JudgmentStore interface {
	StoreJudgment(ctx context.Context, j *models.Judgment) error
	GetJudgment(ctx context.Context, id string) (*models.Judgment, error)
	SearchJudgments(ctx context.Context, filter JudgmentFilter) ([]*models.Judgment, error)
	CountJudgments(ctx context.Context) (int, error)
	DeleteJudgmentsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// PatternStore persists extracted behavioral patterns, keyed by name.
type PatternStore interface {
	UpsertPattern(ctx context.Context, p *models.Pattern) error
	GetPatternByName(ctx context.Context, name string) (*models.Pattern, error)
	ListPatterns(ctx context.Context, limit int) ([]*models.Pattern, error)
}

// FeedbackStore persists user feedback records.
type FeedbackStore interface {
	StoreFeedback(ctx context.Context, f *models.Feedback) error
	ListFeedback(ctx context.Context, judgmentID string, limit int) ([]*models.Feedback, error)
}

// KnowledgeStore persists reference knowledge entries.
type KnowledgeStore interface {
	StoreKnowledge(ctx context.Context, k *models.KnowledgeEntry) error
	SearchKnowledge(ctx context.Context, query string, limit int) ([]*models.KnowledgeEntry, error)
}

// FactStore persists declarative facts.
type FactStore interface {
	StoreFact(ctx context.Context, f *models.Fact) error
	ListFacts(ctx context.Context, subject string, limit int) ([]*models.Fact, error)
}

// BlockStore persists sealed proof-of-judgment blocks.
// ListPoJBlocks returns blocks ordered by ascending slot.
type BlockStore interface {
	StorePoJBlock(ctx context.Context, b *models.PoJBlock) error
	ListPoJBlocks(ctx context.Context) ([]*models.PoJBlock, error)
	LatestPoJBlock(ctx context.Context) (*models.PoJBlock, error)
}

// TriggerStore persists the singleton triggers-state document.
type TriggerStore interface {
	SaveTriggersState(ctx context.Context, s *models.TriggersState) error
	LoadTriggersState(ctx context.Context) (*models.TriggersState, error)
}

// SessionStore persists session audit rows. IncrementSessionCounter maps
// the counter field name to its snake_case column.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	IncrementSessionCounter(ctx context.Context, id, field string, delta int) error
}

// PsychologyStore persists per-user psychology snapshots.
type PsychologyStore interface {
	SavePsychology(ctx context.Context, snap *models.PsychologySnapshot) error
	LoadPsychology(ctx context.Context, userID string) (*models.PsychologySnapshot, error)
}

// LibraryStore caches library-card lookups, keyed by card name.
type LibraryStore interface {
	SaveLibraryCard(ctx context.Context, card *models.LibraryCard) error
	GetLibraryCard(ctx context.Context, name string) (*models.LibraryCard, error)
}

// AutonomyStore persists goals, tasks, and notifications.
type AutonomyStore interface {
	StoreGoal(ctx context.Context, g *models.Goal) error
	ListGoals(ctx context.Context, status string, limit int) ([]*models.Goal, error)
	StoreTask(ctx context.Context, t *models.Task) error
	ListTasks(ctx context.Context, goalID string, limit int) ([]*models.Task, error)
	StoreNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*models.Notification, error)
}

// Store is the full domain surface a backend must provide.
type Store interface {
	JudgmentStore
	PatternStore
	FeedbackStore
	KnowledgeStore
	FactStore
	BlockStore
	TriggerStore
	SessionStore
	PsychologyStore
	LibraryStore
	AutonomyStore

	// Backend returns the backend label.
	Backend() string

	// Close releases backend resources. Idempotent.
	Close(ctx context.Context) error
}

// Domains enumerates every adapter domain, in capability-map order.
func Domains() []string {
	return []string{
		"judgments", "patterns", "feedback", "knowledge", "pojBlocks",
		"triggers", "sessions", "psychology", "library", "facts",
		"goals", "tasks", "notifications",
	}
}
