package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goodboyai/kennel/pkg/models"
)

// MemoryStore is the ephemeral last-resort backend. All state lives in
// process memory and is lost on shutdown.
//
// Stored records are treated as immutable: callers must not mutate a record
// after handing it to the store.
type MemoryStore struct {
	mu sync.RWMutex

	judgments     []*models.Judgment
	judgmentByID  map[string]*models.Judgment
	patterns      map[string]*models.Pattern // keyed by name
	feedback      []*models.Feedback
	knowledge     []*models.KnowledgeEntry
	facts         []*models.Fact
	blocks        []*models.PoJBlock
	triggers      *models.TriggersState
	sessions      map[string]*models.Session
	psychology    map[string]*models.PsychologySnapshot
	library       map[string]*models.LibraryCard
	goals         []*models.Goal
	tasks         []*models.Task
	notifications []*models.Notification
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		judgmentByID: make(map[string]*models.Judgment),
		patterns:     make(map[string]*models.Pattern),
		sessions:     make(map[string]*models.Session),
		psychology:   make(map[string]*models.PsychologySnapshot),
		library:      make(map[string]*models.LibraryCard),
	}
}

func (s *MemoryStore) Backend() string { return BackendMemory }

// Close is a no-op; memory has nothing to release.
func (s *MemoryStore) Close(_ context.Context) error { return nil }

// ────────────────────────────────────────────────────────────
// Judgments
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) StoreJudgment(_ context.Context, j *models.Judgment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.judgmentByID[j.ID]; ok {
		*existing = *j
		return nil
	}
	s.judgments = append(s.judgments, j)
	s.judgmentByID[j.ID] = j
	return nil
}

func (s *MemoryStore) GetJudgment(_ context.Context, id string) (*models.Judgment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.judgmentByID[id], nil
}

func (s *MemoryStore) SearchJudgments(_ context.Context, filter JudgmentFilter) ([]*models.Judgment, error) {
	limit := clampLimit(filter.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first.
	results := make([]*models.Judgment, 0, limit)
	for i := len(s.judgments) - 1; i >= 0 && len(results) < limit; i-- {
		if judgmentMatches(s.judgments[i], filter) {
			results = append(results, s.judgments[i])
		}
	}
	return results, nil
}

func (s *MemoryStore) CountJudgments(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.judgments), nil
}

func (s *MemoryStore) DeleteJudgmentsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.judgments[:0]
	deleted := 0
	for _, j := range s.judgments {
		if j.CreatedAt.Before(cutoff) {
			delete(s.judgmentByID, j.ID)
			deleted++
			continue
		}
		kept = append(kept, j)
	}
	s.judgments = kept
	return deleted, nil
}

// judgmentMatches applies a filter to one judgment.
func judgmentMatches(j *models.Judgment, filter JudgmentFilter) bool {
	if filter.Verdict != "" && j.Verdict != filter.Verdict {
		return false
	}
	if filter.SessionID != "" && j.SessionID != filter.SessionID {
		return false
	}
	if filter.UserID != "" && j.UserID != filter.UserID {
		return false
	}
	if !filter.Since.IsZero() && j.CreatedAt.Before(filter.Since) {
		return false
	}
	if filter.Query != "" {
		needle := strings.ToLower(filter.Query)
		if !strings.Contains(strings.ToLower(j.Reasoning), needle) &&
			!strings.Contains(strings.ToLower(judgmentItemText(j)), needle) {
			return false
		}
	}
	return true
}

func judgmentItemText(j *models.Judgment) string {
	for _, key := range []string{"content", "description", "text"} {
		if s, ok := j.Item[key].(string); ok {
			return s
		}
	}
	return ""
}

// ────────────────────────────────────────────────────────────
// Patterns
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) UpsertPattern(_ context.Context, p *models.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.patterns[p.Name]; ok {
		p.ID = existing.ID
	}
	s.patterns[p.Name] = p
	return nil
}

func (s *MemoryStore) GetPatternByName(_ context.Context, name string) (*models.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patterns[name], nil
}

func (s *MemoryStore) ListPatterns(_ context.Context, limit int) ([]*models.Pattern, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		all = append(all, p)
	}
	// Most frequently seen first; ties broken by recency.
	sort.Slice(all, func(i, k int) bool {
		if all[i].Occurrences != all[k].Occurrences {
			return all[i].Occurrences > all[k].Occurrences
		}
		return all[i].LastSeen.After(all[k].LastSeen)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ────────────────────────────────────────────────────────────
// Feedback
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) StoreFeedback(_ context.Context, f *models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, f)
	return nil
}

func (s *MemoryStore) ListFeedback(_ context.Context, judgmentID string, limit int) ([]*models.Feedback, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*models.Feedback, 0, limit)
	for i := len(s.feedback) - 1; i >= 0 && len(results) < limit; i-- {
		if judgmentID == "" || s.feedback[i].JudgmentID == judgmentID {
			results = append(results, s.feedback[i])
		}
	}
	return results, nil
}

// ────────────────────────────────────────────────────────────
// Knowledge & facts
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) StoreKnowledge(_ context.Context, k *models.KnowledgeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge = append(s.knowledge, k)
	return nil
}

func (s *MemoryStore) SearchKnowledge(_ context.Context, query string, limit int) ([]*models.KnowledgeEntry, error) {
	limit = clampLimit(limit)
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*models.KnowledgeEntry, 0, limit)
	for i := len(s.knowledge) - 1; i >= 0 && len(results) < limit; i-- {
		k := s.knowledge[i]
		if needle == "" ||
			strings.Contains(strings.ToLower(k.Topic), needle) ||
			strings.Contains(strings.ToLower(k.Content), needle) {
			results = append(results, k)
		}
	}
	return results, nil
}

func (s *MemoryStore) StoreFact(_ context.Context, f *models.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, f)
	return nil
}

func (s *MemoryStore) ListFacts(_ context.Context, subject string, limit int) ([]*models.Fact, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*models.Fact, 0, limit)
	for i := len(s.facts) - 1; i >= 0 && len(results) < limit; i-- {
		if subject == "" || strings.EqualFold(s.facts[i].Subject, subject) {
			results = append(results, s.facts[i])
		}
	}
	return results, nil
}

// ────────────────────────────────────────────────────────────
// PoJ blocks
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) StorePoJBlock(_ context.Context, b *models.PoJBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, b)
	sort.Slice(s.blocks, func(i, k int) bool { return s.blocks[i].Slot < s.blocks[k].Slot })
	return nil
}

func (s *MemoryStore) ListPoJBlocks(_ context.Context) ([]*models.PoJBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PoJBlock, len(s.blocks))
	copy(out, s.blocks)
	return out, nil
}

func (s *MemoryStore) LatestPoJBlock(_ context.Context) (*models.PoJBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return nil, nil
	}
	return s.blocks[len(s.blocks)-1], nil
}

// ────────────────────────────────────────────────────────────
// Triggers
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) SaveTriggersState(_ context.Context, state *models.TriggersState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = state
	return nil
}

func (s *MemoryStore) LoadTriggersState(_ context.Context) (*models.TriggersState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.triggers, nil
}

// ────────────────────────────────────────────────────────────
// Sessions
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) SaveSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id], nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) IncrementSessionCounter(_ context.Context, id, field string, delta int) error {
	if _, ok := counterColumn(field); !ok {
		return fmt.Errorf("unknown session counter %q", field)
	}
	if delta < 0 {
		return fmt.Errorf("session counter %q cannot decrease", field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.Counters.Add(field, delta)
	sess.LastActivity = time.Now().UTC()
	return nil
}

// ────────────────────────────────────────────────────────────
// Psychology & library cache
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) SavePsychology(_ context.Context, snap *models.PsychologySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.psychology[snap.UserID] = snap
	return nil
}

func (s *MemoryStore) LoadPsychology(_ context.Context, userID string) (*models.PsychologySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.psychology[userID], nil
}

func (s *MemoryStore) SaveLibraryCard(_ context.Context, card *models.LibraryCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.library[card.Name] = card
	return nil
}

func (s *MemoryStore) GetLibraryCard(_ context.Context, name string) (*models.LibraryCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.library[name], nil
}

// ────────────────────────────────────────────────────────────
// Autonomy
// ────────────────────────────────────────────────────────────

func (s *MemoryStore) StoreGoal(_ context.Context, g *models.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.goals {
		if existing.ID == g.ID {
			s.goals[i] = g
			return nil
		}
	}
	s.goals = append(s.goals, g)
	return nil
}

func (s *MemoryStore) ListGoals(_ context.Context, status string, limit int) ([]*models.Goal, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*models.Goal, 0, limit)
	for i := len(s.goals) - 1; i >= 0 && len(results) < limit; i-- {
		if status == "" || s.goals[i].Status == status {
			results = append(results, s.goals[i])
		}
	}
	return results, nil
}

func (s *MemoryStore) StoreTask(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tasks {
		if existing.ID == t.ID {
			s.tasks[i] = t
			return nil
		}
	}
	s.tasks = append(s.tasks, t)
	return nil
}

func (s *MemoryStore) ListTasks(_ context.Context, goalID string, limit int) ([]*models.Task, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*models.Task, 0, limit)
	for i := len(s.tasks) - 1; i >= 0 && len(results) < limit; i-- {
		if goalID == "" || s.tasks[i].GoalID == goalID {
			results = append(results, s.tasks[i])
		}
	}
	return results, nil
}

func (s *MemoryStore) StoreNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, unreadOnly bool, limit int) ([]*models.Notification, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*models.Notification, 0, limit)
	for i := len(s.notifications) - 1; i >= 0 && len(results) < limit; i-- {
		if unreadOnly && s.notifications[i].Read {
			continue
		}
		results = append(results, s.notifications[i])
	}
	return results, nil
}
