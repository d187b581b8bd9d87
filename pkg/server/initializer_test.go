package server

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/judge"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Transport: config.TransportStream,
		HTTPPort:  config.DefaultHTTPPort,
	}
}

func mustInitialize(t *testing.T, cfg *config.Config, provided Provided) *Services {
	t.Helper()
	svc, err := Initialize(context.Background(), cfg, provided, testLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, svc.Close(context.Background()))
	})
	return svc
}

func TestInitializeBuildsEverything(t *testing.T) {
	svc := mustInitialize(t, testConfig(), Provided{})

	require.NotNil(t, svc.Events)
	require.NotNil(t, svc.Metrics)
	require.NotNil(t, svc.Storage)
	assert.Equal(t, storage.BackendMemory, svc.Storage.Backend())
	require.NotNil(t, svc.Sessions)
	require.NotNil(t, svc.Judge)
	assert.Equal(t, 4, svc.Judge.AxiomCount())
	require.NotNil(t, svc.Collective)
	require.IsType(t, judge.DisabledAnchorer{}, svc.Anchorer)
	require.NotNil(t, svc.Chain)
	require.NotNil(t, svc.Discovery)
	require.NotNil(t, svc.Scheduler)
	require.NotNil(t, svc.Registry)
	require.NotNil(t, svc.Dispatcher)
	require.NotNil(t, svc.RPC)

	names := make([]string, 0, 9)
	for _, d := range svc.Registry.List() {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{
		"judge", "feedback", "search_judgments", "pattern", "knowledge",
		"fact", "library_lookup", "session_control", "goal",
	}, names)
}

func TestInitializeRequiresConfig(t *testing.T) {
	_, err := Initialize(context.Background(), nil, Provided{}, testLogger(), nil)
	require.Error(t, err)
}

func TestInitializeHonorsProvided(t *testing.T) {
	events := bus.New()
	store := storage.NewManagerWithStore(storage.NewMemoryStore(), testLogger())
	engine := judge.NewEngine()

	svc := mustInitialize(t, testConfig(), Provided{
		Events:  events,
		Storage: store,
		Judge:   engine,
	})

	assert.Same(t, events, svc.Events)
	assert.Same(t, store, svc.Storage)
	assert.Same(t, engine, svc.Judge)
}

func TestInitializeRoutesEventsToMetrics(t *testing.T) {
	svc := mustInitialize(t, testConfig(), Provided{})
	base := svc.Metrics.Snapshot()

	svc.Events.Publish(bus.TopicToolPost, map[string]any{
		"tool":       "judge",
		"toolUseId":  "tu_1",
		"durationMs": int64(12),
		"success":    true,
	})
	svc.Events.Publish(bus.TopicToolPre, map[string]any{
		"tool":      "dangerous",
		"toolUseId": "tu_2",
		"blockedBy": "guardian",
	})
	// A pre event without blockedBy is an ordinary call, not a block.
	svc.Events.Publish(bus.TopicToolPre, map[string]any{
		"tool":      "judge",
		"toolUseId": "tu_3",
	})
	svc.Events.Publish(bus.TopicJudgmentCreated, &models.Judgment{
		ID:      "jdg_m",
		Verdict: models.VerdictWag,
		Item:    map[string]any{},
	})
	svc.Events.Publish(bus.TopicBlockCreated, &models.PoJBlock{
		Slot:      0,
		Judgments: []models.JudgmentRef{{JudgmentID: "jdg_m"}},
	})

	snap := svc.Metrics.Snapshot()
	assert.Equal(t, base.ToolCalls+1, snap.ToolCalls)
	assert.Equal(t, base.ToolsBlocked+1, snap.ToolsBlocked)
	assert.Equal(t, int64(1), snap.Judgments["WAG"])
	assert.Equal(t, base.BlocksSealed+1, snap.BlocksSealed)
}

func TestJudgmentLearningHook(t *testing.T) {
	ctx := context.Background()
	svc := mustInitialize(t, testConfig(), Provided{})

	j := &models.Judgment{
		ID:      "jdg_learn",
		Verdict: models.VerdictWag,
		Item:    map[string]any{"kind": "decision"},
	}
	svc.Events.Publish(bus.TopicJudgmentCreated, j, bus.WithSource("test"))

	p, err := svc.Storage.GetPatternByName(ctx, "decision:wag")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Occurrences)
	assert.Equal(t, models.VerdictWag, p.Verdict)
	assert.Contains(t, p.Examples, "jdg_learn")

	svc.Events.Publish(bus.TopicJudgmentCreated, j, bus.WithSource("test"))
	p, err = svc.Storage.GetPatternByName(ctx, "decision:wag")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, p.Occurrences)
}

func TestJudgmentLearningHookDefaultsItemKind(t *testing.T) {
	ctx := context.Background()
	svc := mustInitialize(t, testConfig(), Provided{})

	svc.Events.Publish(bus.TopicJudgmentCreated, &models.Judgment{
		ID:      "jdg_bare",
		Verdict: models.VerdictBark,
		Item:    map[string]any{"content": "no kind field"},
	})

	p, err := svc.Storage.GetPatternByName(ctx, "item:bark")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Occurrences)
}

func TestCloseUnsubscribesBusHandlers(t *testing.T) {
	ctx := context.Background()
	svc, err := Initialize(ctx, testConfig(), Provided{}, testLogger(), nil)
	require.NoError(t, err)

	require.Positive(t, svc.Events.SubscriberCount(bus.TopicJudgmentCreated))
	require.NoError(t, svc.Close(ctx))
	require.NoError(t, svc.Close(ctx), "close is idempotent")

	assert.Zero(t, svc.Events.SubscriberCount(bus.TopicJudgmentCreated))
	assert.Zero(t, svc.Events.SubscriberCount(bus.TopicToolPost))
}

func TestInitializeAnchorerSelection(t *testing.T) {
	t.Run("disabled without config", func(t *testing.T) {
		svc := mustInitialize(t, testConfig(), Provided{})
		assert.Equal(t, "not_configured", svc.Anchorer.Health()["status"])
	})

	t.Run("enabled with missing wallet fails startup", func(t *testing.T) {
		cfg := testConfig()
		cfg.Anchor = &config.AnchorConfig{
			Enabled:    true,
			WalletPath: filepath.Join(t.TempDir(), "missing.json"),
		}
		_, err := Initialize(context.Background(), cfg, Provided{}, testLogger(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize anchorer")
	})
}

type captureAnchorer struct {
	mu     sync.Mutex
	blocks []*models.PoJBlock
}

func (a *captureAnchorer) AnchorBlock(_ context.Context, b *models.PoJBlock) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocks = append(a.blocks, b)
	return nil
}

func (a *captureAnchorer) Health() map[string]any {
	return map[string]any{"status": "healthy"}
}

func (a *captureAnchorer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}

func TestSealedBlocksReachTheAnchorer(t *testing.T) {
	anchorer := &captureAnchorer{}
	cfg := testConfig()
	cfg.Chain = &config.ChainConfig{BlockSize: 1, BlockInterval: time.Hour}

	svc := mustInitialize(t, cfg, Provided{Anchorer: anchorer})

	err := svc.Chain.Add(context.Background(), models.JudgmentRef{
		JudgmentID: "jdg_anchor",
		Verdict:    models.VerdictWag,
		Score:      80,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return anchorer.count() == 1 },
		2*time.Second, 10*time.Millisecond)

	anchorer.mu.Lock()
	slot := anchorer.blocks[0].Slot
	anchorer.mu.Unlock()
	assert.Equal(t, 0, slot)
}
