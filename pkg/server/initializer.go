// Package server assembles the subsystems into a running process: the
// initializer builds the dependency graph, the stream transport and the
// HTTP adapter carry JSON-RPC, and the orchestrator owns the lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/chain"
	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/discovery"
	"github.com/goodboyai/kennel/pkg/hooks"
	"github.com/goodboyai/kennel/pkg/judge"
	"github.com/goodboyai/kennel/pkg/mcp"
	"github.com/goodboyai/kennel/pkg/metrics"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/scheduler"
	"github.com/goodboyai/kennel/pkg/session"
	"github.com/goodboyai/kennel/pkg/storage"
	"github.com/goodboyai/kennel/pkg/tools"
)

const (
	// anchorTimeout bounds one best-effort anchor submission for a sealed
	// block.
	anchorTimeout = 10 * time.Second

	// learnTimeout bounds the pattern write performed by the judgment
	// learning hook.
	learnTimeout = 5 * time.Second
)

// Provided lets a caller hand pre-built subsystems to Initialize. Nil
// fields are constructed normally; non-nil fields are adopted in place of
// the corresponding factory. Adopted subsystems are still torn down by
// Close along with everything else.
type Provided struct {
	Events     *bus.Bus
	Metrics    *metrics.Metrics
	Storage    *storage.Manager
	Sessions   *session.Manager
	Judge      *judge.Engine
	Collective hooks.Receiver
	Anchorer   judge.Anchorer
	Chain      *chain.Manager
	Discovery  *discovery.Service
	Scheduler  *scheduler.Service
	Registry   *tools.Registry
}

// Services aggregates every constructed subsystem. The orchestrator holds
// one of these for the lifetime of the process.
type Services struct {
	Config     *config.Config
	Events     *bus.Bus
	Metrics    *metrics.Metrics
	Storage    *storage.Manager
	Sessions   *session.Manager
	Judge      *judge.Engine
	Collective hooks.Receiver
	Anchorer   judge.Anchorer
	Chain      *chain.Manager
	Discovery  *discovery.Service
	Scheduler  *scheduler.Service
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
	RPC        *mcp.Handler
	Logger     *slog.Logger

	forwarder   *peerForwarder
	unsubscribe []func()

	closeOnce sync.Once
	closeErr  error
}

// factory builds one subsystem. Factories run in slice order, so each one
// may rely on everything before it.
type factory struct {
	name  string
	build func(ctx context.Context) error
}

// Initialize constructs the subsystem graph in dependency order, leaves
// first, then wires the cross-subsystem bus handlers. Storage connection
// failures never abort startup; the manager falls back and reports them
// through health. stop is handed to the RPC handler's shutdown method and
// may be nil.
func Initialize(ctx context.Context, cfg *config.Config, provided Provided, logger *slog.Logger, stop func()) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Services{Config: cfg, Logger: logger}

	factories := []factory{
		{"bus", func(context.Context) error {
			svc.Events = provided.Events
			if svc.Events == nil {
				svc.Events = bus.New()
			}
			return nil
		}},

		{"metrics", func(context.Context) error {
			svc.Metrics = provided.Metrics
			if svc.Metrics == nil {
				svc.Metrics = metrics.New()
			}
			return nil
		}},

		{"storage", func(ctx context.Context) error {
			svc.Storage = provided.Storage
			if svc.Storage == nil {
				svc.Storage = storage.NewManager(ctx, storage.Options{
					DatabaseURL: cfg.DatabaseURL,
					RedisURL:    cfg.RedisURL,
					DataDir:     cfg.DataDir,
					Logger:      logger,
				})
			}
			return nil
		}},

		{"sessions", func(context.Context) error {
			svc.Sessions = provided.Sessions
			if svc.Sessions == nil {
				// Cache() returns a typed nil when Redis is absent; assigning
				// that to the interface would dodge the manager's nil checks.
				var cache session.Cache
				if rs := svc.Storage.Cache(); rs != nil {
					cache = rs
				}
				svc.Sessions = session.NewManager(svc.Storage, cache, svc.Events, logger)
			}
			return nil
		}},

		{"judge", func(context.Context) error {
			svc.Judge = provided.Judge
			if svc.Judge == nil {
				var weights map[string]float64
				if cfg.Judge != nil {
					weights = cfg.Judge.AxiomWeights
				}
				svc.Judge = judge.NewEngineWithWeights(weights)
			}
			return nil
		}},

		{"collective", func(context.Context) error {
			svc.Collective = provided.Collective
			if svc.Collective == nil {
				svc.Collective = hooks.NewDefaultCollective()
			}
			return nil
		}},

		{"anchorer", func(context.Context) error {
			svc.Anchorer = provided.Anchorer
			if svc.Anchorer != nil {
				return nil
			}
			if cfg.Anchor == nil || !cfg.Anchor.Enabled {
				svc.Anchorer = judge.DisabledAnchorer{}
				return nil
			}
			a, err := judge.NewMemoAnchorer(cfg.Anchor.WalletPath, cfg.Anchor.RPCURL, logger)
			if err != nil {
				return err
			}
			svc.Anchorer = a
			return nil
		}},

		{"chain", func(ctx context.Context) error {
			svc.Chain = provided.Chain
			if svc.Chain != nil {
				return nil
			}
			var opts []chain.Option
			if _, disabled := svc.Anchorer.(judge.DisabledAnchorer); !disabled {
				anchorer := svc.Anchorer
				opts = append(opts, chain.WithOnBlock(func(b *models.PoJBlock) {
					// Anchoring must not hold up the seal path.
					go func() {
						actx, cancel := context.WithTimeout(context.Background(), anchorTimeout)
						defer cancel()
						if err := anchorer.AnchorBlock(actx, b); err != nil {
							logger.Warn("failed to anchor block", "slot", b.Slot, "error", err)
						}
					}()
				}))
			}
			c, err := chain.NewManager(ctx, svc.Storage, svc.Events, cfg.Chain, logger, opts...)
			if err != nil {
				return err
			}
			svc.Chain = c
			return nil
		}},

		{"discovery", func(context.Context) error {
			svc.Discovery = provided.Discovery
			if svc.Discovery == nil {
				svc.Discovery = discovery.NewService(cfg.Discovery, svc.Storage, logger)
			}
			return nil
		}},

		{"scheduler", func(context.Context) error {
			svc.Scheduler = provided.Scheduler
			if svc.Scheduler != nil {
				return nil
			}
			sch, err := scheduler.New(cfg.Scheduler, scheduler.Deps{
				Store:    svc.Storage,
				Sessions: svc.Sessions,
				Chain:    svc.Chain,
				Anchorer: svc.Anchorer,
				Events:   svc.Events,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			svc.Scheduler = sch
			return nil
		}},

		{"tools", func(context.Context) error {
			svc.Registry = provided.Registry
			if svc.Registry == nil {
				svc.Registry = tools.NewRegistry(logger)
				for _, f := range tools.BuiltinFactories() {
					if err := svc.Registry.Register(f); err != nil {
						return err
					}
				}
			}
			created := svc.Registry.CreateAll(tools.Services{
				Judge:    svc.Judge,
				Storage:  svc.Storage,
				Sessions: svc.Sessions,
				Chain:    svc.Chain,
				Library:  svc.Discovery,
				Events:   svc.Events,
				Logger:   logger,
			})
			logger.Info("tool catalogue ready", "tools", created)
			svc.Dispatcher = tools.NewDispatcher(svc.Registry, svc.Collective, svc.Sessions, svc.Events, logger)
			return nil
		}},

		{"rpc", func(context.Context) error {
			svc.RPC = mcp.NewHandler(svc.Registry, svc.Dispatcher, logger, stop)
			return nil
		}},
	}

	for _, f := range factories {
		if err := f.build(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w", f.name, err)
		}
		logger.Debug("subsystem ready", "name", f.name)
	}

	svc.wireBusHandlers()
	return svc, nil
}

// wireBusHandlers routes domain events into the metrics counters, the
// pattern learning hook, and optional peer forwarding. Handles are
// retained so Close can unsubscribe in reverse order.
func (s *Services) wireBusHandlers() {
	s.retain(s.Events.Subscribe(bus.TopicToolPost, func(evt bus.Event) {
		p, ok := evt.Payload.(map[string]any)
		if !ok {
			return
		}
		tool, _ := p["tool"].(string)
		success, _ := p["success"].(bool)
		var dur time.Duration
		if ms, ok := p["durationMs"].(int64); ok {
			dur = time.Duration(ms) * time.Millisecond
		}
		s.Metrics.RecordToolCall(tool, dur, success)
	}))

	s.retain(s.Events.Subscribe(bus.TopicToolPre, func(evt bus.Event) {
		p, ok := evt.Payload.(map[string]any)
		if !ok {
			return
		}
		agent, _ := p["blockedBy"].(string)
		if agent == "" {
			return
		}
		tool, _ := p["tool"].(string)
		s.Metrics.RecordToolBlocked(tool, agent)
	}))

	s.retain(s.Events.Subscribe(bus.TopicJudgmentCreated, func(evt bus.Event) {
		j, ok := evt.Payload.(*models.Judgment)
		if !ok {
			return
		}
		s.Metrics.RecordJudgment(string(j.Verdict))
		s.learnFromJudgment(j)
	}))

	s.retain(s.Events.Subscribe(bus.TopicBlockCreated, func(evt bus.Event) {
		b, ok := evt.Payload.(*models.PoJBlock)
		if !ok {
			return
		}
		s.Metrics.RecordBlockSealed(len(b.Judgments))
	}))

	if len(s.Config.Peers) > 0 {
		s.forwarder = newPeerForwarder(s.Config.Peers, s.Logger)
		s.retain(s.Events.Subscribe(bus.TopicJudgmentCreated, s.forwarder.onJudgment))
		s.Logger.Info("judgment forwarding enabled", "peers", len(s.Config.Peers))
	}
}

// learnFromJudgment folds one judgment into the pattern store, keyed by
// the judged item's kind and the verdict so repeated outcomes accumulate.
// Failures are logged; learning never surfaces to the judging caller.
func (s *Services) learnFromJudgment(j *models.Judgment) {
	ctx, cancel := context.WithTimeout(context.Background(), learnTimeout)
	defer cancel()

	kind, _ := j.Item["kind"].(string)
	if kind == "" {
		kind = "item"
	}
	name := fmt.Sprintf("%s:%s", kind, strings.ToLower(string(j.Verdict)))
	description := fmt.Sprintf("%s items judged %s", kind, j.Verdict)

	if _, err := tools.RecordPattern(ctx, s.Storage, name, description, j.Verdict, j.ID); err != nil {
		s.Logger.Warn("failed to record judgment pattern", "judgment_id", j.ID, "error", err)
	}
}

func (s *Services) retain(unsub func()) {
	s.unsubscribe = append(s.unsubscribe, unsub)
}

// Close tears down the subsystems in reverse construction order: bus
// handlers first, then chain (flushing the final block), scheduler,
// discovery, and persistence last. Safe to call more than once.
func (s *Services) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		for i := len(s.unsubscribe) - 1; i >= 0; i-- {
			s.unsubscribe[i]()
		}
		s.unsubscribe = nil

		if s.forwarder != nil {
			s.forwarder.drain()
		}

		var errs []error
		if s.Chain != nil {
			if err := s.Chain.Close(ctx); err != nil {
				s.Logger.Error("failed to close chain", "error", err)
				errs = append(errs, fmt.Errorf("failed to close chain: %w", err))
			}
		}
		if s.Scheduler != nil {
			s.Scheduler.Stop()
		}
		if s.Discovery != nil {
			if err := s.Discovery.Shutdown(ctx); err != nil {
				s.Logger.Error("failed to shut down discovery", "error", err)
				errs = append(errs, fmt.Errorf("failed to shut down discovery: %w", err))
			}
		}
		if s.Storage != nil {
			if err := s.Storage.Close(ctx); err != nil {
				s.Logger.Error("failed to close storage", "error", err)
				errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
