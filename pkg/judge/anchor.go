package judge

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/goodboyai/kennel/pkg/models"
)

// Anchorer records sealed block hashes on an external ledger. The chain
// manager invokes AnchorBlock after each block is persisted and published.
type Anchorer interface {
	AnchorBlock(ctx context.Context, block *models.PoJBlock) error
	Health() map[string]any
}

// DisabledAnchorer is the default: anchoring off, every call a no-op.
type DisabledAnchorer struct{}

func (DisabledAnchorer) AnchorBlock(context.Context, *models.PoJBlock) error { return nil }

func (DisabledAnchorer) Health() map[string]any {
	return map[string]any{"status": "not_configured"}
}

// MemoAnchorer prepares anchor memos for sealed blocks. The wallet keypair
// is loaded and validated up front; memo submission to the ledger RPC
// endpoint is owned by the external anchoring client, so this type only
// signs and records what would be submitted.
type MemoAnchorer struct {
	rpcURL string
	pubKey ed25519.PublicKey
	priv   ed25519.PrivateKey
	logger *slog.Logger

	mu       sync.Mutex
	anchored int
	lastSlot int
	lastAt   time.Time
}

// NewMemoAnchorer loads the keypair at walletPath and returns an anchorer
// bound to the given RPC endpoint. The wallet file must contain a JSON
// array of 64 bytes (seed followed by public key).
func NewMemoAnchorer(walletPath, rpcURL string, logger *slog.Logger) (*MemoAnchorer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(walletPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet file: %w", err)
	}

	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wallet file is not a JSON byte array: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet keypair has %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}

	priv := ed25519.PrivateKey(raw)
	return &MemoAnchorer{
		rpcURL:   rpcURL,
		pubKey:   priv.Public().(ed25519.PublicKey),
		priv:     priv,
		logger:   logger.With("component", "anchorer"),
		lastSlot: -1,
	}, nil
}

// AnchorBlock signs an anchor memo for the block and records it. Never
// blocks the sealing path on network I/O.
func (a *MemoAnchorer) AnchorBlock(ctx context.Context, block *models.PoJBlock) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	memo := fmt.Sprintf("poj:%d:%s", block.Slot, block.Hash)
	sig := ed25519.Sign(a.priv, []byte(memo))

	a.mu.Lock()
	a.anchored++
	a.lastSlot = block.Slot
	a.lastAt = time.Now().UTC()
	a.mu.Unlock()

	a.logger.Info("anchor memo prepared",
		"slot", block.Slot,
		"hash", block.Hash,
		"signature", hex.EncodeToString(sig[:8]),
		"rpc_url", a.rpcURL)
	return nil
}

// Health reports anchoring activity for the health endpoint.
func (a *MemoAnchorer) Health() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := map[string]any{
		"status":     "healthy",
		"public_key": hex.EncodeToString(a.pubKey),
		"anchored":   a.anchored,
	}
	if a.lastSlot >= 0 {
		h["last_slot"] = a.lastSlot
		h["last_at"] = a.lastAt
	}
	return h
}
