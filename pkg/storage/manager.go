package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goodboyai/kennel/pkg/models"
)

// Durable connection policy: two attempts with a short backoff, then fall
// back. Startup must not hang on a dead database.
const (
	connectAttempts = 2
	connectBackoff  = 3 * time.Second
)

// Store health statuses.
const (
	StatusHealthy          = "healthy"
	StatusUnhealthy        = "unhealthy"
	StatusConnectionFailed = "connection_failed"
	StatusNotConfigured    = "not_configured"
)

// StoreHealth describes one backend in the health snapshot.
type StoreHealth struct {
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	Path            string `json:"path,omitempty"`
	ResponseTime    int64  `json:"response_time_ms,omitempty"`
	OpenConnections int    `json:"open_connections,omitempty"`
	InUse           int    `json:"in_use,omitempty"`
	Idle            int    `json:"idle,omitempty"`
}

// Health is the stable health snapshot. All three keys are always present
// regardless of which backends are connected.
type Health struct {
	Backend  string      `json:"backend"`
	Postgres StoreHealth `json:"postgres"`
	File     StoreHealth `json:"file"`
	Cache    StoreHealth `json:"cache"`
}

// Options configures the persistence manager.
type Options struct {
	DatabaseURL string
	RedisURL    string
	DataDir     string
	Logger      *slog.Logger
}

// Manager owns the fallback chain durable -> file -> memory plus the
// optional Redis cache tier. Exactly one of the three chain stores is
// active; the choice is made once at initialization and never changes
// mid-run.
//
// Reads on the active store swallow errors: failures are logged and the
// call returns a safe empty value. Writes propagate errors so callers can
// react (the PoJ chain restores its pending buffer on a failed persist).
type Manager struct {
	logger *slog.Logger

	durable *PostgresStore
	file    *FileStore
	memory  *MemoryStore
	cache   *RedisStore

	// override replaces the chain entirely. Test seam.
	override Store

	backend    string
	durableErr error
	fileErr    error
	cacheErr   error
}

// NewManager initializes the chain. Connection failures are recorded and
// logged but never abort startup; the manager always comes up with a
// usable backend.
func NewManager(ctx context.Context, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger}

	if opts.DatabaseURL != "" {
		for attempt := 1; attempt <= connectAttempts; attempt++ {
			store, err := NewPostgresStore(ctx, opts.DatabaseURL)
			if err == nil {
				m.durable = store
				m.durableErr = nil
				break
			}
			m.durableErr = err
			logger.Warn("database connection failed",
				"attempt", attempt,
				"max_attempts", connectAttempts,
				"error", err)
			if attempt < connectAttempts {
				select {
				case <-ctx.Done():
					attempt = connectAttempts
				case <-time.After(connectBackoff):
				}
			}
		}
	}

	switch {
	case m.durable != nil:
		m.backend = BackendDurable
		logger.Info("persistence backend ready", "backend", m.backend)
	case opts.DataDir != "":
		file, err := NewFileStore(opts.DataDir)
		if err != nil {
			m.fileErr = err
			m.memory = NewMemoryStore()
			m.backend = BackendMemory
			logger.Error("file store unavailable, falling back to memory",
				"data_dir", opts.DataDir,
				"error", err)
		} else {
			m.file = file
			m.backend = BackendFile
			logger.Info("persistence backend ready", "backend", m.backend, "path", file.Path())
		}
	default:
		m.memory = NewMemoryStore()
		m.backend = BackendMemory
		logger.Info("persistence backend ready", "backend", m.backend)
	}

	if opts.RedisURL != "" {
		cache, err := NewRedisStore(ctx, opts.RedisURL)
		if err != nil {
			m.cacheErr = err
			logger.Warn("redis cache unavailable", "error", err)
		} else {
			m.cache = cache
			logger.Info("redis cache connected")
		}
	}

	return m
}

// NewManagerWithStore builds a manager around an existing store. Tests use
// it to exercise callers without touching real backends.
func NewManagerWithStore(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, backend: store.Backend(), override: store}
}

// active returns the chain store selected at initialization.
func (m *Manager) active() Store {
	switch {
	case m.override != nil:
		return m.override
	case m.durable != nil:
		return m.durable
	case m.file != nil:
		return m.file
	default:
		return m.memory
	}
}

// Backend reports the active chain backend label.
func (m *Manager) Backend() string { return m.backend }

// Durable reports whether the durable store is connected.
func (m *Manager) Durable() bool { return m.durable != nil }

// Cache returns the Redis tier, or nil when not connected.
func (m *Manager) Cache() *RedisStore { return m.cache }

// Capabilities reports per-domain read+write availability. The fallback
// chain guarantees every domain is serviceable, so each entry reflects the
// active store.
func (m *Manager) Capabilities() map[string]bool {
	available := m.active() != nil
	caps := make(map[string]bool, len(Domains()))
	for _, domain := range Domains() {
		caps[domain] = available
	}
	return caps
}

// HealthCheck probes each configured backend and returns the snapshot.
func (m *Manager) HealthCheck(ctx context.Context) *Health {
	h := &Health{Backend: m.backend}

	switch {
	case m.durable != nil:
		start := time.Now()
		if err := m.durable.DB().PingContext(ctx); err != nil {
			h.Postgres = StoreHealth{
				Status:       StatusUnhealthy,
				Error:        err.Error(),
				ResponseTime: time.Since(start).Milliseconds(),
			}
		} else {
			stats := m.durable.DB().Stats()
			h.Postgres = StoreHealth{
				Status:          StatusHealthy,
				ResponseTime:    time.Since(start).Milliseconds(),
				OpenConnections: stats.OpenConnections,
				InUse:           stats.InUse,
				Idle:            stats.Idle,
			}
		}
	case m.durableErr != nil:
		h.Postgres = StoreHealth{Status: StatusConnectionFailed, Error: m.durableErr.Error()}
	default:
		h.Postgres = StoreHealth{Status: StatusNotConfigured}
	}

	switch {
	case m.file != nil:
		h.File = StoreHealth{Status: StatusHealthy, Path: m.file.Path()}
	case m.fileErr != nil:
		h.File = StoreHealth{Status: StatusConnectionFailed, Error: m.fileErr.Error()}
	default:
		h.File = StoreHealth{Status: StatusNotConfigured}
	}

	switch {
	case m.cache != nil:
		start := time.Now()
		if err := m.cache.Ping(ctx); err != nil {
			h.Cache = StoreHealth{
				Status:       StatusUnhealthy,
				Error:        err.Error(),
				ResponseTime: time.Since(start).Milliseconds(),
			}
		} else {
			h.Cache = StoreHealth{Status: StatusHealthy, ResponseTime: time.Since(start).Milliseconds()}
		}
	case m.cacheErr != nil:
		h.Cache = StoreHealth{Status: StatusConnectionFailed, Error: m.cacheErr.Error()}
	default:
		h.Cache = StoreHealth{Status: StatusNotConfigured}
	}

	return h
}

// Close flushes and releases all backends: file state first, then the
// durable pool, then the cache.
func (m *Manager) Close(ctx context.Context) error {
	if m.override != nil {
		return m.override.Close(ctx)
	}

	var errs []error
	if m.file != nil {
		if err := m.file.Close(ctx); err != nil {
			m.logger.Error("failed to flush file store", "error", err)
			errs = append(errs, err)
		}
	}
	if m.durable != nil {
		if err := m.durable.Close(ctx); err != nil {
			m.logger.Error("failed to close database", "error", err)
			errs = append(errs, err)
		}
	}
	if m.cache != nil {
		if err := m.cache.Close(); err != nil {
			m.logger.Error("failed to close redis", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// logReadError records a swallowed read failure.
func (m *Manager) logReadError(op string, err error) {
	m.logger.Error("persistence read failed",
		"op", op,
		"backend", m.backend,
		"error", err)
}

// ────────────────────────────────────────────────────────────
// Judgments
// ────────────────────────────────────────────────────────────

func (m *Manager) StoreJudgment(ctx context.Context, j *models.Judgment) error {
	return m.active().StoreJudgment(ctx, j)
}

func (m *Manager) GetJudgment(ctx context.Context, id string) (*models.Judgment, error) {
	j, err := m.active().GetJudgment(ctx, id)
	if err != nil {
		m.logReadError("get_judgment", err)
		return nil, nil
	}
	return j, nil
}

func (m *Manager) SearchJudgments(ctx context.Context, filter JudgmentFilter) ([]*models.Judgment, error) {
	results, err := m.active().SearchJudgments(ctx, filter)
	if err != nil {
		m.logReadError("search_judgments", err)
		return []*models.Judgment{}, nil
	}
	if results == nil {
		results = []*models.Judgment{}
	}
	return results, nil
}

func (m *Manager) CountJudgments(ctx context.Context) (int, error) {
	n, err := m.active().CountJudgments(ctx)
	if err != nil {
		m.logReadError("count_judgments", err)
		return 0, nil
	}
	return n, nil
}

func (m *Manager) DeleteJudgmentsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return m.active().DeleteJudgmentsBefore(ctx, cutoff)
}

// ────────────────────────────────────────────────────────────
// Patterns
// ────────────────────────────────────────────────────────────

func (m *Manager) UpsertPattern(ctx context.Context, p *models.Pattern) error {
	return m.active().UpsertPattern(ctx, p)
}

func (m *Manager) GetPatternByName(ctx context.Context, name string) (*models.Pattern, error) {
	p, err := m.active().GetPatternByName(ctx, name)
	if err != nil {
		m.logReadError("get_pattern", err)
		return nil, nil
	}
	return p, nil
}

func (m *Manager) ListPatterns(ctx context.Context, limit int) ([]*models.Pattern, error) {
	results, err := m.active().ListPatterns(ctx, limit)
	if err != nil {
		m.logReadError("list_patterns", err)
		return []*models.Pattern{}, nil
	}
	if results == nil {
		results = []*models.Pattern{}
	}
	return results, nil
}

// ────────────────────────────────────────────────────────────
// Feedback
// ────────────────────────────────────────────────────────────

func (m *Manager) StoreFeedback(ctx context.Context, f *models.Feedback) error {
	return m.active().StoreFeedback(ctx, f)
}

func (m *Manager) ListFeedback(ctx context.Context, judgmentID string, limit int) ([]*models.Feedback, error) {
	results, err := m.active().ListFeedback(ctx, judgmentID, limit)
	if err != nil {
		m.logReadError("list_feedback", err)
		return []*models.Feedback{}, nil
	}
	if results == nil {
		results = []*models.Feedback{}
	}
	return results, nil
}

// ────────────────────────────────────────────────────────────
// Knowledge & facts
// ────────────────────────────────────────────────────────────

func (m *Manager) StoreKnowledge(ctx context.Context, k *models.KnowledgeEntry) error {
	return m.active().StoreKnowledge(ctx, k)
}

func (m *Manager) SearchKnowledge(ctx context.Context, query string, limit int) ([]*models.KnowledgeEntry, error) {
	results, err := m.active().SearchKnowledge(ctx, query, limit)
	if err != nil {
		m.logReadError("search_knowledge", err)
		return []*models.KnowledgeEntry{}, nil
	}
	if results == nil {
		results = []*models.KnowledgeEntry{}
	}
	return results, nil
}

func (m *Manager) StoreFact(ctx context.Context, f *models.Fact) error {
	return m.active().StoreFact(ctx, f)
}

func (m *Manager) ListFacts(ctx context.Context, subject string, limit int) ([]*models.Fact, error) {
	results, err := m.active().ListFacts(ctx, subject, limit)
	if err != nil {
		m.logReadError("list_facts", err)
		return []*models.Fact{}, nil
	}
	if results == nil {
		results = []*models.Fact{}
	}
	return results, nil
}

// ────────────────────────────────────────────────────────────
// PoJ blocks
// ────────────────────────────────────────────────────────────

func (m *Manager) StorePoJBlock(ctx context.Context, b *models.PoJBlock) error {
	return m.active().StorePoJBlock(ctx, b)
}

func (m *Manager) ListPoJBlocks(ctx context.Context) ([]*models.PoJBlock, error) {
	results, err := m.active().ListPoJBlocks(ctx)
	if err != nil {
		m.logReadError("list_poj_blocks", err)
		return []*models.PoJBlock{}, nil
	}
	if results == nil {
		results = []*models.PoJBlock{}
	}
	return results, nil
}

func (m *Manager) LatestPoJBlock(ctx context.Context) (*models.PoJBlock, error) {
	b, err := m.active().LatestPoJBlock(ctx)
	if err != nil {
		m.logReadError("latest_poj_block", err)
		return nil, nil
	}
	return b, nil
}

// ────────────────────────────────────────────────────────────
// Triggers
// ────────────────────────────────────────────────────────────

func (m *Manager) SaveTriggersState(ctx context.Context, state *models.TriggersState) error {
	return m.active().SaveTriggersState(ctx, state)
}

func (m *Manager) LoadTriggersState(ctx context.Context) (*models.TriggersState, error) {
	state, err := m.active().LoadTriggersState(ctx)
	if err != nil {
		m.logReadError("load_triggers_state", err)
		return nil, nil
	}
	return state, nil
}

// ────────────────────────────────────────────────────────────
// Sessions
// ────────────────────────────────────────────────────────────

func (m *Manager) SaveSession(ctx context.Context, sess *models.Session) error {
	return m.active().SaveSession(ctx, sess)
}

func (m *Manager) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.active().GetSession(ctx, id)
	if err != nil {
		m.logReadError("get_session", err)
		return nil, nil
	}
	return sess, nil
}

func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	return m.active().DeleteSession(ctx, id)
}

func (m *Manager) IncrementSessionCounter(ctx context.Context, id, field string, delta int) error {
	return m.active().IncrementSessionCounter(ctx, id, field, delta)
}

// ────────────────────────────────────────────────────────────
// Psychology & library cache
// ────────────────────────────────────────────────────────────

func (m *Manager) SavePsychology(ctx context.Context, snap *models.PsychologySnapshot) error {
	return m.active().SavePsychology(ctx, snap)
}

func (m *Manager) LoadPsychology(ctx context.Context, userID string) (*models.PsychologySnapshot, error) {
	snap, err := m.active().LoadPsychology(ctx, userID)
	if err != nil {
		m.logReadError("load_psychology", err)
		return nil, nil
	}
	return snap, nil
}

func (m *Manager) SaveLibraryCard(ctx context.Context, card *models.LibraryCard) error {
	return m.active().SaveLibraryCard(ctx, card)
}

func (m *Manager) GetLibraryCard(ctx context.Context, name string) (*models.LibraryCard, error) {
	card, err := m.active().GetLibraryCard(ctx, name)
	if err != nil {
		m.logReadError("get_library_card", err)
		return nil, nil
	}
	return card, nil
}

// ────────────────────────────────────────────────────────────
// Autonomy
// ────────────────────────────────────────────────────────────

func (m *Manager) StoreGoal(ctx context.Context, g *models.Goal) error {
	return m.active().StoreGoal(ctx, g)
}

func (m *Manager) ListGoals(ctx context.Context, status string, limit int) ([]*models.Goal, error) {
	results, err := m.active().ListGoals(ctx, status, limit)
	if err != nil {
		m.logReadError("list_goals", err)
		return []*models.Goal{}, nil
	}
	if results == nil {
		results = []*models.Goal{}
	}
	return results, nil
}

func (m *Manager) StoreTask(ctx context.Context, t *models.Task) error {
	return m.active().StoreTask(ctx, t)
}

func (m *Manager) ListTasks(ctx context.Context, goalID string, limit int) ([]*models.Task, error) {
	results, err := m.active().ListTasks(ctx, goalID, limit)
	if err != nil {
		m.logReadError("list_tasks", err)
		return []*models.Task{}, nil
	}
	if results == nil {
		results = []*models.Task{}
	}
	return results, nil
}

func (m *Manager) StoreNotification(ctx context.Context, n *models.Notification) error {
	return m.active().StoreNotification(ctx, n)
}

func (m *Manager) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*models.Notification, error) {
	results, err := m.active().ListNotifications(ctx, unreadOnly, limit)
	if err != nil {
		m.logReadError("list_notifications", err)
		return []*models.Notification{}, nil
	}
	if results == nil {
		results = []*models.Notification{}
	}
	return results, nil
}
