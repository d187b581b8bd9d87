package e2e

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodboyai/kennel/pkg/chain"
	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/storage"
)

// ────────────────────────────────────────────────────────────
// Scenario 4: Chain Integrity Report After Tampering
// ────────────────────────────────────────────────────────────

// seedTamperedChain writes a three-block chain where slot 2 points at a
// previous hash that belongs to no block.
func seedTamperedChain(t *testing.T, store *storage.Manager) {
	t.Helper()
	ctx := context.Background()

	prev := models.GenesisHash
	for slot := 0; slot < 3; slot++ {
		id := models.NewID("jdg")
		root := chain.MerkleRoot([]string{id})
		if slot == 2 {
			prev = "feedfacefeedface"
		}
		b := &models.PoJBlock{
			Slot:          slot,
			PreviousHash:  prev,
			JudgmentsRoot: root,
			Judgments:     []models.JudgmentRef{{JudgmentID: id, Verdict: models.VerdictWag, Score: 0.9}},
			Hash:          chain.BlockHash(slot, prev, root),
			CreatedAt:     time.Now().UTC(),
		}
		require.NoError(t, store.StorePoJBlock(ctx, b))
		prev = b.Hash
	}
}

func TestE2E_ChainIntegrityReport(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewManagerWithStore(storage.NewMemoryStore(), logger)
	seedTamperedChain(t, store)

	app := NewTestApp(t, WithStorage(store))

	report, err := app.Services.Chain.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 3, report.BlocksChecked)
	assert.Equal(t, 1, report.Mismatches)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "slot 2")

	// Detection never halts the pipeline: the head is restored from the
	// store and new judgments keep flowing.
	app.CallToolOK(t, 1, "judge", map[string]any{
		"item": map[string]any{"kind": "note", "content": "still judging after corruption"},
	})
	health := app.GetHealth(t)
	chainCheck := check(t, health, "chain")
	assert.EqualValues(t, 2, chainCheck["head_slot"])
}

// ────────────────────────────────────────────────────────────
// Scenario: Judgments Seal into Announced Blocks
// ────────────────────────────────────────────────────────────

func TestE2E_JudgmentsSealIntoBlocks(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Chain = &config.ChainConfig{BlockSize: 2, BlockInterval: time.Minute}
	app := NewTestApp(t, WithConfig(cfg))

	sse := app.OpenSSE(t)
	_ = sse.WaitFor(t, "endpoint", 2*time.Second)

	app.CallToolOK(t, 1, "judge", map[string]any{
		"item": map[string]any{"kind": "pr", "content": "adds tests for the new endpoint"},
	})
	app.CallToolOK(t, 2, "judge", map[string]any{
		"item": map[string]any{"kind": "pr", "content": "deletes the test suite"},
	})

	// The second judgment fills the block; the seal is announced.
	evt := sse.WaitFor(t, "poj:block:created", 2*time.Second)
	assert.EqualValues(t, 0, evt.Data["slot"])
	assert.Equal(t, models.GenesisHash, evt.Data["previous_hash"])
	sealed, ok := evt.Data["judgments"].([]any)
	require.True(t, ok)
	assert.Len(t, sealed, 2)
	assert.NotEmpty(t, evt.Data["hash"])

	assert.EqualValues(t, 1, app.Services.Metrics.Snapshot().BlocksSealed)

	health := app.GetHealth(t)
	chainCheck := check(t, health, "chain")
	assert.EqualValues(t, 0, chainCheck["head_slot"])

	report, err := app.Services.Chain.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 1, report.BlocksChecked)
}
