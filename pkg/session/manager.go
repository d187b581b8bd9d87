// Package session tracks per-(user, project) activity windows with
// deterministic identifiers and monotonic counters.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/storage"
)

// Manager owns the live session table. At most one live session exists per
// (user, project) key; the durable repository keeps ended sessions as an
// audit trail.
type Manager struct {
	repo   storage.SessionStore
	cache  Cache
	events *bus.Bus
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*models.Session // keyed by "userID:project"
	current  *models.Session
}

// NewManager wires the session manager. cache and events may be nil.
func NewManager(repo storage.SessionStore, cache Cache, events *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:     repo,
		cache:    cache,
		events:   events,
		logger:   logger,
		sessions: make(map[string]*models.Session),
	}
}

func normalize(userID, project string) (string, string) {
	if userID == "" {
		userID = DefaultUser
	}
	if project == "" {
		project = DefaultProject
	}
	return userID, project
}

// GetOrCreate returns the live session for (userID, project), creating it
// when absent. A hit only refreshes the activity timestamp; creation
// additionally writes the audit row, seeds the cache tier, marks the new
// session current, and publishes "session:started".
func (m *Manager) GetOrCreate(ctx context.Context, userID, project string, attrs map[string]any) (*models.Session, error) {
	userID, project = normalize(userID, project)
	key := userID + ":" + project

	m.mu.Lock()
	if existing, ok := m.sessions[key]; ok {
		existing.LastActivity = time.Now().UTC()
		m.mu.Unlock()
		return existing, nil
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:           ID(userID, project),
		UserID:       userID,
		Project:      project,
		Context:      attrs,
		CreatedAt:    now,
		LastActivity: now,
	}
	m.sessions[key] = sess
	m.current = sess
	m.mu.Unlock()

	// Audit row first, then the cache tier. Both are best-effort: the
	// live table stays authoritative even when a tier is down.
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		m.logger.Warn("failed to persist session", "session_id", sess.ID, "error", err)
	}
	if m.cache != nil {
		if err := m.cache.SetSession(ctx, sess); err != nil {
			m.logger.Warn("failed to cache session", "session_id", sess.ID, "error", err)
		}
	}

	m.logger.Info("session started", "session_id", sess.ID, "user_id", userID, "project", project)
	if m.events != nil {
		m.events.Publish(bus.TopicSessionStarted, map[string]any{
			"sessionId": sess.ID,
			"userId":    userID,
			"project":   project,
		}, bus.WithSource("session"))
	}
	return sess, nil
}

// Start creates a fresh session for (userID, project), first ending any
// live session for the same pair.
func (m *Manager) Start(ctx context.Context, userID, project string, attrs map[string]any) (*models.Session, error) {
	userID, project = normalize(userID, project)

	m.mu.Lock()
	existing := m.sessions[userID+":"+project]
	m.mu.Unlock()

	if existing != nil {
		if res := m.End(ctx, existing.ID); !res.Ended {
			m.logger.Warn("failed to end previous session", "session_id", existing.ID, "reason", res.Reason)
		}
	}
	return m.GetOrCreate(ctx, userID, project, attrs)
}

// End flushes the session's counters to the durable repository, then drops
// the session from the live table and the cache tier. The audit row is
// kept. Unknown IDs report not-found instead of raising.
func (m *Manager) End(ctx context.Context, sessionID string) EndResult {
	m.mu.Lock()
	var (
		sess *models.Session
		key  string
	)
	for k, s := range m.sessions {
		if s.ID == sessionID {
			sess, key = s, k
			break
		}
	}
	if sess == nil {
		m.mu.Unlock()
		return EndResult{Ended: false, Reason: ReasonNotFound}
	}

	sess.LastActivity = time.Now().UTC()
	counters := sess.Counters
	delete(m.sessions, key)
	if m.current == sess {
		m.current = nil
	}
	m.mu.Unlock()

	// Counters must reach the repository before any tier forgets the
	// session.
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		m.logger.Warn("failed to flush session counters", "session_id", sess.ID, "error", err)
	}
	if m.cache != nil {
		if err := m.cache.DeleteSession(ctx, sess.ID); err != nil {
			m.logger.Warn("failed to evict cached session", "session_id", sess.ID, "error", err)
		}
	}

	m.logger.Info("session ended",
		"session_id", sess.ID,
		"judgments", counters.Judgments,
		"tool_calls", counters.ToolCalls)
	if m.events != nil {
		m.events.Publish(bus.TopicSessionEnded, map[string]any{
			"sessionId": sess.ID,
			"counters":  counters,
		}, bus.WithSource("session"))
	}
	return EndResult{Ended: true, SessionID: sess.ID, Counters: &counters}
}

// IncrementCounter bumps the named counter on the current session and
// propagates the delta to the cache tier and the durable repository.
// Without a current session this is a no-op. Propagation is best-effort;
// the live table never loses an increment.
func (m *Manager) IncrementCounter(ctx context.Context, field string, delta int) {
	m.mu.Lock()
	sess := m.current
	if sess == nil {
		m.mu.Unlock()
		return
	}
	if !sess.Counters.Add(field, delta) {
		m.mu.Unlock()
		m.logger.Warn("ignoring invalid counter update", "field", field, "delta", delta)
		return
	}
	sess.LastActivity = time.Now().UTC()
	snap := *sess
	m.mu.Unlock()

	if m.cache != nil {
		if err := m.cache.SetSession(ctx, &snap); err != nil {
			m.logger.Warn("failed to refresh cached session", "session_id", snap.ID, "error", err)
		}
	}
	if err := m.repo.IncrementSessionCounter(ctx, snap.ID, field, delta); err != nil {
		m.logger.Warn("failed to persist counter", "session_id", snap.ID, "field", field, "error", err)
	}
}

// Current returns the current session, or nil when none is live.
func (m *Manager) Current() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Get returns the live session with the given ID, or nil.
func (m *Manager) Get(sessionID string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == sessionID {
			return s
		}
	}
	return nil
}

// GetSummary snapshots the live session table.
func (m *Manager) GetSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := Summary{
		ActiveSessions: len(m.sessions),
		Sessions:       make([]*models.Session, 0, len(m.sessions)),
	}
	if m.current != nil {
		summary.Current = m.current.ID
	}
	for _, s := range m.sessions {
		snap := *s
		summary.Sessions = append(summary.Sessions, &snap)
	}
	return summary
}
