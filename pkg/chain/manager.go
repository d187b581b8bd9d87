// Package chain maintains the Proof-of-Judgment chain: an append-only
// sequence of hash-linked blocks batching judgment references.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/storage"
)

// ErrClosed is returned by Add once the manager is closing.
var ErrClosed = errors.New("chain manager is closed")

// Option customises a Manager.
type Option func(*Manager)

// WithNow overrides the clock. Tests use it to pin timestamps.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithOnBlock registers a callback invoked after each sealed block has been
// persisted and published. The anchoring client hangs off this.
func WithOnBlock(fn func(*models.PoJBlock)) Option {
	return func(m *Manager) { m.onBlock = fn }
}

// Stats is a point-in-time view of the chain for health reporting.
type Stats struct {
	HeadSlot int    `json:"head_slot"`
	HeadHash string `json:"head_hash,omitempty"`
	Pending  int    `json:"pending"`
}

// Manager owns the pending-judgment buffer and the chain head. All buffer
// mutation and sealing happens under one mutex, so no judgment can straddle
// a block boundary.
type Manager struct {
	store   storage.BlockStore
	events  *bus.Bus
	logger  *slog.Logger
	onBlock func(*models.PoJBlock)

	blockSize int
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending []models.JudgmentRef
	oldest  time.Time
	head    *models.PoJBlock
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewManager restores the chain head from the block store and starts the
// interval sealer. events may be nil.
func NewManager(ctx context.Context, store storage.BlockStore, events *bus.Bus, cfg *config.ChainConfig, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultChainConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:     store,
		events:    events,
		logger:    logger,
		blockSize: cfg.BlockSize,
		interval:  cfg.BlockInterval,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	head, err := store.LatestPoJBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain head: %w", err)
	}
	m.head = head
	if head != nil {
		logger.Info("chain head restored", "slot", head.Slot, "hash", head.Hash)
	}

	go m.run()
	return m, nil
}

// Add buffers one judgment reference, sealing a block when the buffer
// reaches the size threshold. A failed seal leaves the judgment buffered
// for a later attempt.
func (m *Manager) Add(ctx context.Context, ref models.JudgmentRef) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if len(m.pending) == 0 {
		m.oldest = m.now()
	}
	m.pending = append(m.pending, ref)

	var sealed *models.PoJBlock
	if len(m.pending) >= m.blockSize {
		var err error
		sealed, err = m.sealLocked(ctx)
		if err != nil {
			m.logger.Warn("block seal failed, judgments remain buffered",
				"pending", len(m.pending), "error", err)
		}
	}
	m.mu.Unlock()

	m.notifySealer()
	if sealed != nil {
		m.announce(sealed)
	}
	return nil
}

// Flush seals the pending buffer immediately, regardless of thresholds.
// Returns nil when the buffer is empty.
func (m *Manager) Flush(ctx context.Context) (*models.PoJBlock, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return nil, nil
	}
	sealed, err := m.sealLocked(ctx)
	m.mu.Unlock()

	m.notifySealer()
	if sealed != nil {
		m.announce(sealed)
	}
	return sealed, err
}

// Head returns the most recently sealed block, or nil on an empty chain.
func (m *Manager) Head() *models.PoJBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head
}

// Stats reports the head slot (-1 on an empty chain) and buffer depth.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{HeadSlot: -1, Pending: len(m.pending)}
	if m.head != nil {
		s.HeadSlot = m.head.Slot
		s.HeadHash = m.head.Hash
	}
	return s
}

// Close seals any residual buffer as the final block and stops the interval
// sealer. Further Add calls fail with ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var (
		sealed *models.PoJBlock
		err    error
	)
	if len(m.pending) > 0 {
		sealed, err = m.sealLocked(ctx)
	}
	m.mu.Unlock()

	close(m.stop)
	<-m.done

	if sealed != nil {
		m.announce(sealed)
	}
	if err != nil {
		return fmt.Errorf("failed to flush final block: %w", err)
	}
	return nil
}

// sealLocked builds, persists, and installs the next block. Callers must
// hold m.mu with a non-empty buffer. On persist failure the buffer is left
// untouched so the judgments replay on the next attempt.
func (m *Manager) sealLocked(ctx context.Context) (*models.PoJBlock, error) {
	ids := make([]string, len(m.pending))
	for i, ref := range m.pending {
		ids[i] = ref.JudgmentID
	}

	slot := 0
	prev := models.GenesisHash
	if m.head != nil {
		slot = m.head.Slot + 1
		prev = m.head.Hash
	}
	root := MerkleRoot(ids)

	block := &models.PoJBlock{
		Slot:          slot,
		PreviousHash:  prev,
		JudgmentsRoot: root,
		Judgments:     append([]models.JudgmentRef(nil), m.pending...),
		Hash:          BlockHash(slot, prev, root),
		CreatedAt:     m.now().UTC(),
	}

	if err := m.store.StorePoJBlock(ctx, block); err != nil {
		// Restart the interval clock so failed timed seals retry at the
		// sealing interval instead of spinning.
		m.oldest = m.now()
		return nil, fmt.Errorf("failed to persist block %d: %w", slot, err)
	}

	m.pending = m.pending[:0]
	m.oldest = time.Time{}
	m.head = block
	return block, nil
}

// announce publishes the sealed block, then hands it to the OnBlock
// callback. Called outside the mutex.
func (m *Manager) announce(b *models.PoJBlock) {
	m.logger.Info("block sealed",
		"slot", b.Slot,
		"judgments", len(b.Judgments),
		"hash", b.Hash)
	if m.events != nil {
		m.events.Publish(bus.TopicBlockCreated, b, bus.WithSource("chain"))
	}
	if m.onBlock != nil {
		m.onBlock(b)
	}
}

func (m *Manager) notifySealer() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// run seals buffers whose oldest judgment has waited longer than the
// sealing interval. Buffer transitions re-arm the timer via notifySealer.
func (m *Manager) run() {
	defer close(m.done)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	drain := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	for {
		m.mu.Lock()
		armed := false
		var wait time.Duration
		if !m.closed && len(m.pending) > 0 {
			wait = m.interval - m.now().Sub(m.oldest)
			if wait < 0 {
				wait = 0
			}
			armed = true
		}
		m.mu.Unlock()

		if armed {
			timer.Reset(wait)
		}

		select {
		case <-m.stop:
			if armed {
				drain()
			}
			return
		case <-m.wake:
			if armed {
				drain()
			}
		case <-timer.C:
			m.mu.Lock()
			var sealed *models.PoJBlock
			if !m.closed && len(m.pending) > 0 && m.now().Sub(m.oldest) >= m.interval {
				var err error
				sealed, err = m.sealLocked(context.Background())
				if err != nil {
					m.logger.Warn("timed block seal failed, judgments remain buffered",
						"pending", len(m.pending), "error", err)
				}
			}
			m.mu.Unlock()
			if sealed != nil {
				m.announce(sealed)
			}
		}
	}
}
