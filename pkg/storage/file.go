package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goodboyai/kennel/pkg/models"
)

// StateFileName is the single on-disk document the file store maintains
// inside its data directory.
const StateFileName = "kennel-state.json"

// stateDocument is the on-disk layout. The first six keys are always
// present; the rest are omitted while empty so hand-inspection of small
// deployments stays readable.
type stateDocument struct {
	Judgments     []*models.Judgment           `json:"judgments"`
	Patterns      []*models.Pattern            `json:"patterns"`
	Feedback      []*models.Feedback           `json:"feedback"`
	Knowledge     []*models.KnowledgeEntry     `json:"knowledge"`
	PoJBlocks     []*models.PoJBlock           `json:"pojBlocks"`
	TriggersState *models.TriggersState        `json:"triggersState,omitempty"`
	Facts         []*models.Fact               `json:"facts,omitempty"`
	Sessions      []*models.Session            `json:"sessions,omitempty"`
	Psychology    []*models.PsychologySnapshot `json:"psychology,omitempty"`
	Library       []*models.LibraryCard        `json:"library,omitempty"`
	Goals         []*models.Goal               `json:"goals,omitempty"`
	Tasks         []*models.Task               `json:"tasks,omitempty"`
	Notifications []*models.Notification       `json:"notifications,omitempty"`
}

// FileStore keeps all state in memory and serialises the whole document to
// disk after every mutation. Writes go to a temp file which is fsynced and
// renamed over the live document, so a crash never leaves a torn file.
type FileStore struct {
	*MemoryStore

	path   string
	saveMu sync.Mutex
}

// NewFileStore loads (or creates) the state document under dataDir.
// A missing document starts the store empty; an unreadable or corrupt one
// is an error so the caller can fall back to memory instead of silently
// shadowing existing state.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        filepath.Join(dataDir, StateFileName),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Backend() string { return BackendFile }

// Path returns the location of the live state document.
func (s *FileStore) Path() string { return s.path }

// Close flushes the current state to disk.
func (s *FileStore) Close(_ context.Context) error {
	return s.save()
}

// load reads the state document into the embedded memory store.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}

	mem := s.MemoryStore
	mem.mu.Lock()
	defer mem.mu.Unlock()

	mem.judgments = doc.Judgments
	for _, j := range doc.Judgments {
		mem.judgmentByID[j.ID] = j
	}
	for _, p := range doc.Patterns {
		mem.patterns[p.Name] = p
	}
	mem.feedback = doc.Feedback
	mem.knowledge = doc.Knowledge
	mem.facts = doc.Facts
	mem.blocks = doc.PoJBlocks
	sort.Slice(mem.blocks, func(i, k int) bool { return mem.blocks[i].Slot < mem.blocks[k].Slot })
	mem.triggers = doc.TriggersState
	for _, sess := range doc.Sessions {
		mem.sessions[sess.ID] = sess
	}
	for _, snap := range doc.Psychology {
		mem.psychology[snap.UserID] = snap
	}
	for _, card := range doc.Library {
		mem.library[card.Name] = card
	}
	mem.goals = doc.Goals
	mem.tasks = doc.Tasks
	mem.notifications = doc.Notifications
	return nil
}

// snapshot builds a deterministic document from current memory state.
func (s *FileStore) snapshot() *stateDocument {
	mem := s.MemoryStore
	mem.mu.RLock()
	defer mem.mu.RUnlock()

	doc := &stateDocument{
		Judgments:     append(make([]*models.Judgment, 0, len(mem.judgments)), mem.judgments...),
		Patterns:      make([]*models.Pattern, 0, len(mem.patterns)),
		Feedback:      append(make([]*models.Feedback, 0, len(mem.feedback)), mem.feedback...),
		Knowledge:     append(make([]*models.KnowledgeEntry, 0, len(mem.knowledge)), mem.knowledge...),
		PoJBlocks:     append(make([]*models.PoJBlock, 0, len(mem.blocks)), mem.blocks...),
		TriggersState: mem.triggers,
		Facts:         mem.facts,
		Goals:         mem.goals,
		Tasks:         mem.tasks,
		Notifications: mem.notifications,
	}
	for _, p := range mem.patterns {
		doc.Patterns = append(doc.Patterns, p)
	}
	sort.Slice(doc.Patterns, func(i, k int) bool { return doc.Patterns[i].Name < doc.Patterns[k].Name })

	for _, sess := range mem.sessions {
		doc.Sessions = append(doc.Sessions, sess)
	}
	sort.Slice(doc.Sessions, func(i, k int) bool { return doc.Sessions[i].ID < doc.Sessions[k].ID })

	for _, snap := range mem.psychology {
		doc.Psychology = append(doc.Psychology, snap)
	}
	sort.Slice(doc.Psychology, func(i, k int) bool { return doc.Psychology[i].UserID < doc.Psychology[k].UserID })

	for _, card := range mem.library {
		doc.Library = append(doc.Library, card)
	}
	sort.Slice(doc.Library, func(i, k int) bool { return doc.Library[i].Name < doc.Library[k].Name })

	return doc
}

// save serialises the whole document atomically: temp file in the same
// directory, fsync, rename over the live path.
func (s *FileStore) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	data, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	return atomicWriteFile(s.path, data, 0o644)
}

// atomicWriteFile writes data to path via a temp file + rename so readers
// never observe a partial document.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	tmpPath = ""
	return nil
}

// ────────────────────────────────────────────────────────────
// Mutating operations persist the full document after applying.
// ────────────────────────────────────────────────────────────

func (s *FileStore) StoreJudgment(ctx context.Context, j *models.Judgment) error {
	if err := s.MemoryStore.StoreJudgment(ctx, j); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) DeleteJudgmentsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.MemoryStore.DeleteJudgmentsBefore(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if n > 0 {
		return n, s.save()
	}
	return n, nil
}

func (s *FileStore) UpsertPattern(ctx context.Context, p *models.Pattern) error {
	if err := s.MemoryStore.UpsertPattern(ctx, p); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) StoreFeedback(ctx context.Context, f *models.Feedback) error {
	if err := s.MemoryStore.StoreFeedback(ctx, f); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) StoreKnowledge(ctx context.Context, k *models.KnowledgeEntry) error {
	if err := s.MemoryStore.StoreKnowledge(ctx, k); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) StoreFact(ctx context.Context, f *models.Fact) error {
	if err := s.MemoryStore.StoreFact(ctx, f); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) StorePoJBlock(ctx context.Context, b *models.PoJBlock) error {
	if err := s.MemoryStore.StorePoJBlock(ctx, b); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) SaveTriggersState(ctx context.Context, state *models.TriggersState) error {
	if err := s.MemoryStore.SaveTriggersState(ctx, state); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) SaveSession(ctx context.Context, sess *models.Session) error {
	if err := s.MemoryStore.SaveSession(ctx, sess); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.MemoryStore.DeleteSession(ctx, id); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) IncrementSessionCounter(ctx context.Context, id, field string, delta int) error {
	if err := s.MemoryStore.IncrementSessionCounter(ctx, id, field, delta); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) SavePsychology(ctx context.Context, snap *models.PsychologySnapshot) error {
	if err := s.MemoryStore.SavePsychology(ctx, snap); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) SaveLibraryCard(ctx context.Context, card *models.LibraryCard) error {
	if err := s.MemoryStore.SaveLibraryCard(ctx, card); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) StoreGoal(ctx context.Context, g *models.Goal) error {
	if err := s.MemoryStore.StoreGoal(ctx, g); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) StoreTask(ctx context.Context, t *models.Task) error {
	if err := s.MemoryStore.StoreTask(ctx, t); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) StoreNotification(ctx context.Context, n *models.Notification) error {
	if err := s.MemoryStore.StoreNotification(ctx, n); err != nil {
		return err
	}
	return s.save()
}
