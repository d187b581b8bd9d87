// Package e2e provides end-to-end test infrastructure for the kennel server.
package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goodboyai/kennel/pkg/api"
	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/server"
	"github.com/goodboyai/kennel/pkg/storage"
	"github.com/goodboyai/kennel/pkg/tools"
)

// TestApp boots a complete kennel instance for e2e testing. HTTP-mode apps
// serve on an ephemeral loopback port; stream-mode apps serve JSON-RPC over
// an in-process pipe pair.
type TestApp struct {
	Config   *config.Config
	Services *server.Services

	// HTTP mode
	HTTPServer *api.Server
	BaseURL    string // e.g. "http://127.0.0.1:54321"

	// Stopped is closed when a client invokes the shutdown RPC method.
	Stopped chan struct{}

	stream *streamClient // nil in HTTP mode

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg        *config.Config
	store      *storage.Manager
	extraTools []tools.Factory
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithStorage injects a pre-built persistence manager, typically one whose
// store has been seeded with fixture rows.
func WithStorage(m *storage.Manager) TestAppOption {
	return func(c *testAppConfig) { c.store = m }
}

// WithExtraTools registers additional tool factories alongside the builtin
// catalogue.
func WithExtraTools(factories ...tools.Factory) TestAppOption {
	return func(c *testAppConfig) { c.extraTools = append(c.extraTools, factories...) }
}

// NewTestApp creates and starts a full kennel test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	if tc.cfg.HTTP == nil {
		tc.cfg.HTTP = config.DefaultHTTPConfig()
	}
	// Keep the drain loop responsive under test timeouts.
	tc.cfg.HTTP.DrainPollInterval = 20 * time.Millisecond

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	provided := server.Provided{Storage: tc.store}
	if len(tc.extraTools) > 0 {
		registry := tools.NewRegistry(logger)
		for _, f := range tools.BuiltinFactories() {
			require.NoError(t, registry.Register(f))
		}
		for _, f := range tc.extraTools {
			require.NoError(t, registry.Register(f))
		}
		provided.Registry = registry
	}

	app := &TestApp{
		Config:  tc.cfg,
		Stopped: make(chan struct{}),
		t:       t,
	}
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(app.Stopped) }) }

	ctx := context.Background()
	svc, err := server.Initialize(ctx, tc.cfg, provided, logger, stop)
	require.NoError(t, err)
	app.Services = svc

	if tc.cfg.HTTPMode() {
		httpSrv := api.NewServer(tc.cfg.HTTP, api.Deps{
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
			Logger:     logger,
		})
		// Bind to the IPv4 loopback so BaseURL is directly dialable.
		require.NoError(t, httpSrv.Start("127.0.0.1:0"))
		app.HTTPServer = httpSrv
		app.BaseURL = "http://" + httpSrv.Addr()
	} else {
		app.stream = startStreamClient(svc, logger)
	}

	// Teardown in reverse-creation order.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if app.stream != nil {
			app.stream.close()
		}
		if app.HTTPServer != nil {
			_ = app.HTTPServer.Shutdown(shutdownCtx)
		}
		_ = svc.Close(shutdownCtx)
	})

	return app
}

// defaultTestConfig serves HTTP on an ephemeral port with the in-memory
// store. Tests typically override this via WithConfig.
func defaultTestConfig() *config.Config {
	return &config.Config{
		Transport: config.TransportHTTP,
		HTTPPort:  "0",
	}
}

// streamTestConfig selects the line-delimited stream transport.
func streamTestConfig() *config.Config {
	return &config.Config{Transport: config.TransportStream}
}

// streamClient drives a stream transport over an in-process pipe pair. The
// request pipe stands in for stdin, the response pipe for stdout.
type streamClient struct {
	in  *io.PipeWriter
	out *bufio.Scanner

	done chan error
}

func startStreamClient(svc *server.Services, logger *slog.Logger) *streamClient {
	reqReader, reqWriter := io.Pipe()
	respReader, respWriter := io.Pipe()

	sc := &streamClient{
		in:   reqWriter,
		out:  bufio.NewScanner(respReader),
		done: make(chan error, 1),
	}
	sc.out.Buffer(make([]byte, 64*1024), 4*1024*1024)

	transport := server.NewStreamTransport(svc.RPC, reqReader, respWriter, logger)
	go func() {
		err := transport.Run(context.Background(), func() {})
		_ = respWriter.Close()
		sc.done <- err
	}()
	return sc
}

// send writes one request line. Notifications produce no response, so the
// caller decides whether a readResponse follows.
func (sc *streamClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(sc.in, line+"\n")
	require.NoError(t, err)
}

// readResponse blocks until the transport emits the next response line.
func (sc *streamClient) readResponse(t *testing.T) map[string]any {
	t.Helper()
	require.True(t, sc.out.Scan(), "no response line: %v", sc.out.Err())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(sc.out.Bytes(), &resp))
	return resp
}

func (sc *streamClient) roundTrip(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	data, err := json.Marshal(envelope)
	require.NoError(t, err)
	sc.send(t, string(data))
	return sc.readResponse(t)
}

// close ends the request stream and waits for the transport to drain.
func (sc *streamClient) close() {
	_ = sc.in.Close()
	<-sc.done
}
