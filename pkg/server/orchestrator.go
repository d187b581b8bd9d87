package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/goodboyai/kennel/pkg/api"
	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/version"
)

// Orchestrator owns the server lifecycle: subsystem construction through
// Initialize, transport startup, and ordered teardown. One orchestrator
// runs one server; construct a fresh one to restart.
type Orchestrator struct {
	cfg      *config.Config
	logger   *slog.Logger
	provided Provided

	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	svc     *Services
	httpSrv *api.Server
	running bool

	stopOnce sync.Once
	stopped  chan struct{}
}

// OrchestratorOption adjusts construction; the zero configuration serves
// stdin/stdout in stream mode.
type OrchestratorOption func(*Orchestrator)

// WithProvided hands pre-built subsystems to the initializer.
func WithProvided(p Provided) OrchestratorOption {
	return func(o *Orchestrator) { o.provided = p }
}

// WithStreamIO replaces stdin/stdout for the stream transport.
func WithStreamIO(in io.Reader, out io.Writer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.in = in
		o.out = out
	}
}

func NewOrchestrator(cfg *config.Config, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger.With("component", "orchestrator"),
		in:      os.Stdin,
		out:     os.Stdout,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start builds the subsystems and brings up the selected transport. In
// stream mode it returns as soon as the read loop is running; in HTTP
// mode it returns once the listener is bound. All startup logging goes to
// the orchestrator's logger (stderr in the CLI) so stream-mode stdout
// stays JSON-clean.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("orchestrator already started")
	}

	svc, err := Initialize(ctx, o.cfg, o.provided, o.logger, o.requestStop)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	o.svc = svc

	// Verify logs its own report; mismatches never block startup, the
	// chain keeps appending after a bad block.
	if _, err := svc.Chain.Verify(ctx); err != nil {
		o.logger.Warn("failed to verify chain at startup", "error", err)
	}

	svc.Scheduler.Start(ctx)

	if o.cfg.HTTPMode() {
		httpSrv := api.NewServer(o.cfg.HTTP, api.Deps{
			RPC:        svc.RPC,
			Registry:   svc.Registry,
			Dispatcher: svc.Dispatcher,
			Collective: svc.Collective,
			Store:      svc.Storage,
			Sessions:   svc.Sessions,
			Chain:      svc.Chain,
			Judge:      svc.Judge,
			Anchorer:   svc.Anchorer,
			Discovery:  svc.Discovery,
			Scheduler:  svc.Scheduler,
			Metrics:    svc.Metrics,
			Events:     svc.Events,
			Logger:     o.logger,
		})
		if err := httpSrv.Start(":" + o.cfg.HTTPPort); err != nil {
			svc.Scheduler.Stop()
			if cerr := svc.Close(ctx); cerr != nil {
				o.logger.Error("failed to close services after aborted start", "error", cerr)
			}
			return err
		}
		o.httpSrv = httpSrv
	} else {
		stream := NewStreamTransport(svc.RPC, o.in, o.out, o.logger)
		go func() {
			if err := stream.Run(context.WithoutCancel(ctx), o.requestStop); err != nil {
				o.logger.Error("stream transport failed", "error", err)
			}
		}()
	}

	o.running = true
	o.logger.Info("server ready",
		"app", version.AppName,
		"version", version.Semver,
		"transport", o.cfg.Transport,
		"backend", svc.Storage.Backend(),
		"tools", len(svc.Registry.List()))
	return nil
}

// Done is closed when the server wants to stop: end of the input stream,
// an RPC shutdown request, or an explicit Stop.
func (o *Orchestrator) Done() <-chan struct{} { return o.stopped }

// Wait blocks until Done.
func (o *Orchestrator) Wait() { <-o.stopped }

func (o *Orchestrator) requestStop() {
	o.stopOnce.Do(func() { close(o.stopped) })
}

// HTTPAddr reports the bound listen address in HTTP mode, empty otherwise.
func (o *Orchestrator) HTTPAddr() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.httpSrv == nil {
		return ""
	}
	return o.httpSrv.Addr()
}

// Stop tears down in order: HTTP adapter drain, chain close (flushing the
// final partial block), scheduler, discovery, persistence. Safe to call
// without a prior Start and safe to call twice.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.running = false
	httpSrv := o.httpSrv
	svc := o.svc
	o.mu.Unlock()

	o.requestStop()

	var errs []error
	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop http adapter: %w", err))
		}
	}
	if svc != nil {
		if err := svc.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	o.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Status reports a point-in-time view for logging and diagnostics.
func (o *Orchestrator) Status() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := map[string]any{
		"running":   o.running,
		"transport": o.cfg.Transport,
	}
	if o.svc == nil {
		return st
	}
	st["tools"] = len(o.svc.Registry.List())
	st["backend"] = o.svc.Storage.Backend()
	st["sessions"] = o.svc.Sessions.GetSummary().ActiveSessions
	st["chain"] = o.svc.Chain.Stats()
	return st
}
