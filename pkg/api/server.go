// Package api is the HTTP adapter: JSON-RPC over POST, an SSE event
// stream, REST access to the tool catalogue, hook ingress, psychology
// sync, and the operational endpoints (health, metrics, dashboard).
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/chain"
	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/discovery"
	"github.com/goodboyai/kennel/pkg/hooks"
	"github.com/goodboyai/kennel/pkg/judge"
	"github.com/goodboyai/kennel/pkg/mcp"
	"github.com/goodboyai/kennel/pkg/metrics"
	"github.com/goodboyai/kennel/pkg/scheduler"
	"github.com/goodboyai/kennel/pkg/session"
	"github.com/goodboyai/kennel/pkg/storage"
	"github.com/goodboyai/kennel/pkg/tools"
)

// Deps carries the subsystems the HTTP surface exposes. RPC, Dispatcher
// and Registry are required; everything else degrades to a smaller
// surface when nil (health reports what it can see, optional routes 404
// at the handler level).
type Deps struct {
	RPC        *mcp.Handler
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
	Collective hooks.Receiver
	Store      *storage.Manager
	Sessions   *session.Manager
	Chain      *chain.Manager
	Judge      *judge.Engine
	Anchorer   judge.Anchorer
	Discovery  *discovery.Service
	Scheduler  *scheduler.Service
	Metrics    *metrics.Metrics
	Events     *bus.Bus
	Logger     *slog.Logger
}

// Server is the HTTP adapter. It owns the gin engine, the SSE hub and
// the drain bookkeeping; everything else is borrowed from Deps.
type Server struct {
	cfg        *config.HTTPConfig
	rpc        *mcp.Handler
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	collective hooks.Receiver
	store      *storage.Manager
	sessions   *session.Manager
	chain      *chain.Manager
	judge      *judge.Engine
	anchorer   judge.Anchorer
	discovery  *discovery.Service
	scheduler  *scheduler.Service
	metrics    *metrics.Metrics
	events     *bus.Bus
	logger     *slog.Logger

	engine      *gin.Engine
	httpSrv     *http.Server
	listener    net.Listener
	sse         *sseHub
	active      atomic.Int64
	unsubscribe []func()
}

// NewServer wires the route table and the SSE hub. The engine carries no
// default middleware; request logging and CORS are registered explicitly.
func NewServer(cfg *config.HTTPConfig, deps Deps) *Server {
	if cfg == nil {
		cfg = config.DefaultHTTPConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		rpc:        deps.RPC,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		collective: deps.Collective,
		store:      deps.Store,
		sessions:   deps.Sessions,
		chain:      deps.Chain,
		judge:      deps.Judge,
		anchorer:   deps.Anchorer,
		discovery:  deps.Discovery,
		scheduler:  deps.Scheduler,
		metrics:    deps.Metrics,
		events:     deps.Events,
		logger:     logger,
	}
	s.sse = newSSEHub(logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(s.requestLog(), s.cors())

	engine.GET("/", s.handleHealth)
	engine.GET("/health", s.handleHealth)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
		engine.GET("/metrics/html", s.handleDashboard)
	}
	engine.POST("/mcp", s.handleRPC)
	engine.POST("/message", s.handleRPC)
	engine.GET("/sse", s.handleSSE)
	engine.GET("/api/tools", s.handleToolDirectory)
	engine.GET("/api/tools/:name", s.handleToolInfo)
	engine.POST("/api/tools/:name", s.handleToolInvoke)
	engine.POST("/hooks/event", s.handleHookEvent)
	engine.POST("/psychology/sync", s.handlePsychologySync)
	engine.GET("/psychology/load", s.handlePsychologyLoad)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "path": c.Request.URL.Path})
	})

	s.engine = engine
	s.mirrorBus()
	return s
}

// mirrorBus relays every core event onto connected SSE clients.
func (s *Server) mirrorBus() {
	if s.events == nil {
		return
	}
	for _, topic := range bus.Topics() {
		s.unsubscribe = append(s.unsubscribe, s.events.Subscribe(topic, func(evt bus.Event) {
			s.sse.broadcast(evt.Name, evt.Payload)
		}))
	}
}

// Start binds the listener and serves in the background. It returns once
// the port is bound, so callers know the address is live.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{Handler: s.engine}

	s.logger.Info("http adapter listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server terminated", "error", err)
		}
	}()
	return nil
}

// Addr reports the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler exposes the engine for in-process tests.
func (s *Server) Handler() http.Handler { return s.engine }

// ActiveRequests reports the in-flight request count tracked for drain.
func (s *Server) ActiveRequests() int64 { return s.active.Load() }

// Shutdown drains the adapter: stop accepting connections, end every SSE
// stream, then poll the in-flight count until it empties or the drain
// budget runs out. Abandoned requests are logged, not awaited.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil

	if s.httpSrv == nil {
		s.sse.closeAll()
		return nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- s.httpSrv.Shutdown(drainCtx) }()

	// SSE handlers never go idle on their own; closing the hub lets
	// Shutdown observe those connections as finished.
	s.sse.closeAll()

	for s.active.Load() > 0 {
		select {
		case <-drainCtx.Done():
			s.logger.Warn("drain budget exhausted, abandoning in-flight requests",
				"remaining", s.active.Load())
			return <-shutdownErr
		case <-time.After(s.cfg.DrainPollInterval):
		}
	}

	err := <-shutdownErr
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.logger.Info("http adapter drained")
	return nil
}
