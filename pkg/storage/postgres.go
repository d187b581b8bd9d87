package storage

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/goodboyai/kennel/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Connection pool settings for the durable store.
const (
	pgMaxOpenConns    = 10
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 30 * time.Minute
	pgConnMaxIdleTime = 5 * time.Minute
)

// PostgresStore is the durable backend. It speaks plain database/sql through
// the pgx driver and applies embedded migrations on connect.
type PostgresStore struct {
	db *stdsql.DB
}

// NewPostgresStore connects to databaseURL, verifies the connection and
// applies any pending migrations. The URL is a standard postgres:// DSN.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)
	db.SetConnMaxIdleTime(pgConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Backend() string { return BackendDurable }

// DB exposes the underlying pool for health checks.
func (s *PostgresStore) DB() *stdsql.DB { return s.db }

func (s *PostgresStore) Close(_ context.Context) error {
	return s.db.Close()
}

// runMigrations applies embedded migrations with golang-migrate.
func runMigrations(db *stdsql.DB) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "kennel", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the database
	// driver, which closes the shared *sql.DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return true, nil
		}
	}
	return false, nil
}

// marshalJSONB serialises v for a JSONB column, substituting fallback for
// JSON null so NOT NULL defaults stay meaningful.
func marshalJSONB(v any, fallback string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}
	if string(data) == "null" {
		return []byte(fallback), nil
	}
	return data, nil
}

// ────────────────────────────────────────────────────────────
// Judgments
// ────────────────────────────────────────────────────────────

func (s *PostgresStore) StoreJudgment(ctx context.Context, j *models.Judgment) error {
	item, err := marshalJSONB(j.Item, "{}")
	if err != nil {
		return err
	}
	axioms, err := marshalJSONB(j.Axioms, "[]")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO judgments (id, session_id, user_id, item, score, verdict, confidence, axioms, reasoning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			score = EXCLUDED.score,
			verdict = EXCLUDED.verdict,
			confidence = EXCLUDED.confidence,
			axioms = EXCLUDED.axioms,
			reasoning = EXCLUDED.reasoning`

	_, err = s.db.ExecContext(ctx, query,
		j.ID, j.SessionID, j.UserID, item, j.Score, string(j.Verdict), j.Confidence, axioms, j.Reasoning, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store judgment: %w", err)
	}
	return nil
}

const judgmentColumns = "id, session_id, user_id, item, score, verdict, confidence, axioms, reasoning, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJudgment(row rowScanner) (*models.Judgment, error) {
	var (
		j          models.Judgment
		verdict    string
		itemData   []byte
		axiomsData []byte
	)
	err := row.Scan(&j.ID, &j.SessionID, &j.UserID, &itemData, &j.Score, &verdict, &j.Confidence, &axiomsData, &j.Reasoning, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.Verdict = models.Verdict(verdict)
	if len(itemData) > 0 {
		if err := json.Unmarshal(itemData, &j.Item); err != nil {
			return nil, fmt.Errorf("failed to parse judgment item: %w", err)
		}
	}
	if len(axiomsData) > 0 {
		if err := json.Unmarshal(axiomsData, &j.Axioms); err != nil {
			return nil, fmt.Errorf("failed to parse judgment axioms: %w", err)
		}
	}
	return &j, nil
}

func (s *PostgresStore) GetJudgment(ctx context.Context, id string) (*models.Judgment, error) {
	query := "SELECT " + judgmentColumns + " FROM judgments WHERE id = $1"
	j, err := scanJudgment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get judgment: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) SearchJudgments(ctx context.Context, filter JudgmentFilter) ([]*models.Judgment, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Verdict != "" {
		conds = append(conds, "verdict = "+arg(string(filter.Verdict)))
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = "+arg(filter.SessionID))
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = "+arg(filter.UserID))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "created_at >= "+arg(filter.Since))
	}
	if filter.Query != "" {
		p := arg("%" + filter.Query + "%")
		conds = append(conds, "(reasoning ILIKE "+p+" OR item::text ILIKE "+p+")")
	}

	query := "SELECT " + judgmentColumns + " FROM judgments"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(clampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search judgments: %w", err)
	}
	defer rows.Close()

	var results []*models.Judgment
	for rows.Next() {
		j, err := scanJudgment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan judgment: %w", err)
		}
		results = append(results, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate judgments: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) CountJudgments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM judgments").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count judgments: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteJudgmentsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM judgments WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete judgments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// ────────────────────────────────────────────────────────────
// Patterns
// ────────────────────────────────────────────────────────────

func (s *PostgresStore) UpsertPattern(ctx context.Context, p *models.Pattern) error {
	examples, err := marshalJSONB(p.Examples, "[]")
	if err != nil {
		return err
	}

	// first_seen survives the upsert; the existing row's id wins.
	query := `
		INSERT INTO patterns (id, name, description, verdict, occurrences, examples, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			verdict = EXCLUDED.verdict,
			occurrences = EXCLUDED.occurrences,
			examples = EXCLUDED.examples,
			last_seen = EXCLUDED.last_seen
		RETURNING id, first_seen`

	err = s.db.QueryRowContext(ctx, query,
		p.ID, p.Name, p.Description, string(p.Verdict), p.Occurrences, examples, p.FirstSeen, p.LastSeen).
		Scan(&p.ID, &p.FirstSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern: %w", err)
	}
	return nil
}

const patternColumns = "id, name, description, verdict, occurrences, examples, first_seen, last_seen"

func scanPattern(row rowScanner) (*models.Pattern, error) {
	var (
		p            models.Pattern
		verdict      string
		examplesData []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &verdict, &p.Occurrences, &examplesData, &p.FirstSeen, &p.LastSeen)
	if err != nil {
		return nil, err
	}
	p.Verdict = models.Verdict(verdict)
	if len(examplesData) > 0 {
		if err := json.Unmarshal(examplesData, &p.Examples); err != nil {
			return nil, fmt.Errorf("failed to parse pattern examples: %w", err)
		}
	}
	return &p, nil
}

func (s *PostgresStore) GetPatternByName(ctx context.Context, name string) (*models.Pattern, error) {
	query := "SELECT " + patternColumns + " FROM patterns WHERE name = $1"
	p, err := scanPattern(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPatterns(ctx context.Context, limit int) ([]*models.Pattern, error) {
	query := "SELECT " + patternColumns + " FROM patterns ORDER BY occurrences DESC, last_seen DESC LIMIT $1"
	rows, err := s.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var results []*models.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patterns: %w", err)
	}
	return results, nil
}

// ────────────────────────────────────────────────────────────
// Feedback
// ────────────────────────────────────────────────────────────

func (s *PostgresStore) StoreFeedback(ctx context.Context, f *models.Feedback) error {
	query := `
		INSERT INTO feedback (id, judgment_id, session_id, user_id, rating, agree, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		f.ID, f.JudgmentID, f.SessionID, f.UserID, f.Rating, f.Agree, f.Comment, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeedback(ctx context.Context, judgmentID string, limit int) ([]*models.Feedback, error) {
	query := "SELECT id, judgment_id, session_id, user_id, rating, agree, comment, created_at FROM feedback"
	args := []any{}
	if judgmentID != "" {
		query += " WHERE judgment_id = $1"
		args = append(args, judgmentID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var results []*models.Feedback
	for rows.Next() {
		var (
			f     models.Feedback
			agree stdsql.NullBool
		)
		if err := rows.Scan(&f.ID, &f.JudgmentID, &f.SessionID, &f.UserID, &f.Rating, &agree, &f.Comment, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if agree.Valid {
			v := agree.Bool
			f.Agree = &v
		}
		results = append(results, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback: %w", err)
	}
	return results, nil
}

// ────────────────────────────────────────────────────────────
// Knowledge & facts
// ────────────────────────────────────────────────────────────

func (s *PostgresStore) StoreKnowledge(ctx context.Context, k *models.KnowledgeEntry) error {
	tags, err := marshalJSONB(k.Tags, "[]")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO knowledge (id, topic, content, source, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.db.ExecContext(ctx, query, k.ID, k.Topic, k.Content, k.Source, tags, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store knowledge: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchKnowledge(ctx context.Context, search string, limit int) ([]*models.KnowledgeEntry, error) {
	query := "SELECT id, topic, content, source, tags, created_at FROM knowledge"
	args := []any{}
	if search != "" {
		query += " WHERE topic ILIKE $1 OR content ILIKE $1"
		args = append(args, "%"+search+"%")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge: %w", err)
	}
	defer rows.Close()

	var results []*models.KnowledgeEntry
	for rows.Next() {
		var (
			k        models.KnowledgeEntry
			tagsData []byte
		)
		if err := rows.Scan(&k.ID, &k.Topic, &k.Content, &k.Source, &tagsData, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge: %w", err)
		}
		if len(tagsData) > 0 {
			if err := json.Unmarshal(tagsData, &k.Tags); err != nil {
				return nil, fmt.Errorf("failed to parse knowledge tags: %w", err)
			}
		}
		results = append(results, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) StoreFact(ctx context.Context, f *models.Fact) error {
	query := `
		INSERT INTO facts (id, subject, statement, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query, f.ID, f.Subject, f.Statement, f.Confidence, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store fact: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFacts(ctx context.Context, subject string, limit int) ([]*models.Fact, error) {
	query := "SELECT id, subject, statement, confidence, created_at FROM facts"
	args := []any{}
	if subject != "" {
		query += " WHERE lower(subject) = lower($1)"
		args = append(args, subject)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer rows.Close()

	var results []*models.Fact
	for rows.Next() {
		var f models.Fact
		if err := rows.Scan(&f.ID, &f.Subject, &f.Statement, &f.Confidence, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		results = append(results, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate facts: %w", err)
	}
	return results, nil
}

// ────────────────────────────────────────────────────────────
// PoJ blocks
// ────────────────────────────────────────────────────────────

func (s *PostgresStore) StorePoJBlock(ctx context.Context, b *models.PoJBlock) error {
	judgments, err := marshalJSONB(b.Judgments, "[]")
	if err != nil {
		return err
	}

	// Slots are append-only; a conflict means the chain is corrupted and
	// must surface as an error.
	query := `
		INSERT INTO poj_blocks (slot, previous_hash, judgments_root, judgments, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.db.ExecContext(ctx, query,
		b.Slot, b.PreviousHash, b.JudgmentsRoot, judgments, b.Hash, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store poj block: %w", err)
	}
	return nil
}

const blockColumns = "slot, previous_hash, judgments_root, judgments, hash, created_at"

func scanBlock(row rowScanner) (*models.PoJBlock, error) {
	var (
		b             models.PoJBlock
		judgmentsData []byte
	)
	err := row.Scan(&b.Slot, &b.PreviousHash, &b.JudgmentsRoot, &judgmentsData, &b.Hash, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(judgmentsData) > 0 {
		if err := json.Unmarshal(judgmentsData, &b.Judgments); err != nil {
			return nil, fmt.Errorf("failed to parse block judgments: %w", err)
		}
	}
	return &b, nil
}

func (s *PostgresStore) ListPoJBlocks(ctx context.Context) ([]*models.PoJBlock, error) {
	query := "SELECT " + blockColumns + " FROM poj_blocks ORDER BY slot ASC"
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list poj blocks: %w", err)
	}
	defer rows.Close()

	var results []*models.PoJBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poj block: %w", err)
		}
		results = append(results, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate poj blocks: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) LatestPoJBlock(ctx context.Context) (*models.PoJBlock, error) {
	query := "SELECT " + blockColumns + " FROM poj_blocks ORDER BY slot DESC LIMIT 1"
	b, err := scanBlock(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest poj block: %w", err)
	}
	return b, nil
}

// ────────────────────────────────────────────────────────────
// Triggers
// ────────────────────────────────────────────────────────────

func (s *PostgresStore) SaveTriggersState(ctx context.Context, state *models.TriggersState) error {
	data, err := marshalJSONB(state, "{}")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO triggers_state (id, state, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`

	if _, err := s.db.ExecContext(ctx, query, data); err != nil {
		return fmt.Errorf("failed to save triggers state: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadTriggersState(ctx context.Context) (*models.TriggersState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT state FROM triggers_state WHERE id = 1").Scan(&data)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load triggers state: %w", err)
	}

	var state models.TriggersState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse triggers state: %w", err)
	}
	return &state, nil
}

// ────────────────────────────────────────────────────────────
// Sessions
// ────────────────────────────────────────────────────────────

// counterColumn maps a counter field name to its sessions column. The map
// is the whole point: column names in the UPDATE below are never taken
// from input.
func counterColumn(field string) (string, bool) {
	switch field {
	case models.CounterJudgments:
		return "judgments", true
	case models.CounterDigests:
		return "digests", true
	case models.CounterFeedback:
		return "feedback", true
	case models.CounterToolCalls:
		return "tool_calls", true
	case models.CounterErrors:
		return "errors", true
	case models.CounterBlocked:
		return "blocked", true
	}
	return "", false
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess *models.Session) error {
	contextData, err := marshalJSONB(sess.Context, "{}")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sessions (id, user_id, project, context, judgments, digests, feedback, tool_calls, errors, blocked, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			context = EXCLUDED.context,
			judgments = EXCLUDED.judgments,
			digests = EXCLUDED.digests,
			feedback = EXCLUDED.feedback,
			tool_calls = EXCLUDED.tool_calls,
			errors = EXCLUDED.errors,
			blocked = EXCLUDED.blocked,
			last_activity = EXCLUDED.last_activity`

	c := sess.Counters
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.Project, contextData,
		c.Judgments, c.Digests, c.Feedback, c.ToolCalls, c.Errors, c.Blocked,
		sess.CreatedAt, sess.LastActivity)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, user_id, project, context, judgments, digests, feedback, tool_calls, errors, blocked, created_at, last_activity
		FROM sessions WHERE id = $1`

	var (
		sess        models.Session
		contextData []byte
	)
	c := &sess.Counters
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.UserID, &sess.Project, &contextData,
		&c.Judgments, &c.Digests, &c.Feedback, &c.ToolCalls, &c.Errors, &c.Blocked,
		&sess.CreatedAt, &sess.LastActivity)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(contextData) > 0 {
		if err := json.Unmarshal(contextData, &sess.Context); err != nil {
			return nil, fmt.Errorf("failed to parse session context: %w", err)
		}
	}
	return &sess, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementSessionCounter(ctx context.Context, id, field string, delta int) error {
	col, ok := counterColumn(field)
	if !ok {
		return fmt.Errorf("unknown session counter %q", field)
	}
	if delta < 0 {
		return fmt.Errorf("session counter %q cannot decrease", field)
	}

	query := fmt.Sprintf("UPDATE sessions SET %s = %s + $1, last_activity = now() WHERE id = $2", col, col)
	if _, err := s.db.ExecContext(ctx, query, delta, id); err != nil {
		return fmt.Errorf("failed to increment session counter: %w", err)
	}
	return nil
}

// ────────────────────────────────────────────────────────────
// Psychology & library cache
// ────────────────────────────────────────────────────────────

func (s *PostgresStore) SavePsychology(ctx context.Context, snap *models.PsychologySnapshot) error {
	state, err := marshalJSONB(snap.State, "{}")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO psychology (user_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, snap.UserID, state, snap.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save psychology: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadPsychology(ctx context.Context, userID string) (*models.PsychologySnapshot, error) {
	var (
		snap      models.PsychologySnapshot
		stateData []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, state, updated_at FROM psychology WHERE user_id = $1", userID).
		Scan(&snap.UserID, &stateData, &snap.UpdatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load psychology: %w", err)
	}
	if len(stateData) > 0 {
		if err := json.Unmarshal(stateData, &snap.State); err != nil {
			return nil, fmt.Errorf("failed to parse psychology state: %w", err)
		}
	}
	return &snap, nil
}

func (s *PostgresStore) SaveLibraryCard(ctx context.Context, card *models.LibraryCard) error {
	query := `
		INSERT INTO library_cache (name, description, ecosystem, homepage, install, content, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			ecosystem = EXCLUDED.ecosystem,
			homepage = EXCLUDED.homepage,
			install = EXCLUDED.install,
			content = EXCLUDED.content,
			fetched_at = EXCLUDED.fetched_at`

	_, err := s.db.ExecContext(ctx, query,
		card.Name, card.Description, card.Ecosystem, card.Homepage, card.Install, card.Content, card.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to save library card: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLibraryCard(ctx context.Context, name string) (*models.LibraryCard, error) {
	var card models.LibraryCard
	err := s.db.QueryRowContext(ctx,
		"SELECT name, description, ecosystem, homepage, install, content, fetched_at FROM library_cache WHERE name = $1", name).
		Scan(&card.Name, &card.Description, &card.Ecosystem, &card.Homepage, &card.Install, &card.Content, &card.FetchedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library card: %w", err)
	}
	return &card, nil
}

// ────────────────────────────────────────────────────────────
// Autonomy
// ────────────────────────────────────────────────────────────

func (s *PostgresStore) StoreGoal(ctx context.Context, g *models.Goal) error {
	query := `
		INSERT INTO goals (id, title, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query, g.ID, g.Title, g.Description, g.Status, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store goal: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGoals(ctx context.Context, status string, limit int) ([]*models.Goal, error) {
	query := "SELECT id, title, description, status, created_at, updated_at FROM goals"
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	var results []*models.Goal
	for rows.Next() {
		var g models.Goal
		if err := rows.Scan(&g.ID, &g.Title, &g.Description, &g.Status, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		results = append(results, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate goals: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) StoreTask(ctx context.Context, t *models.Task) error {
	query := `
		INSERT INTO tasks (id, goal_id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			goal_id = EXCLUDED.goal_id,
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query, t.ID, t.GoalID, t.Title, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store task: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, goalID string, limit int) ([]*models.Task, error) {
	query := "SELECT id, goal_id, title, status, created_at, updated_at FROM tasks"
	args := []any{}
	if goalID != "" {
		query += " WHERE goal_id = $1"
		args = append(args, goalID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var results []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.GoalID, &t.Title, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		results = append(results, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) StoreNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, level, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query, n.ID, n.Level, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*models.Notification, error) {
	query := "SELECT id, level, message, read, created_at FROM notifications"
	if unreadOnly {
		query += " WHERE NOT read"
	}
	query += " ORDER BY created_at DESC LIMIT $1"

	rows, err := s.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var results []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Level, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		results = append(results, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return results, nil
}
