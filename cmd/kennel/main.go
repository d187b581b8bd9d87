// Kennel brain-tool server. Hosts the MCP tool catalogue over the stream
// or HTTP transport and runs the judgment pipeline behind it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/server"
	"github.com/goodboyai/kennel/pkg/version"
)

// shutdownTimeout bounds the whole teardown: HTTP drain, final block seal,
// scheduler stop, store close.
const shutdownTimeout = 15 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("KENNEL_CONFIG_DIR", "."),
		"Path to the directory holding kennel.yaml and .env")
	flag.Parse()

	// Stream mode owns stdout for JSON-RPC frames, so all logging goes to
	// stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		logger.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration: defaults, kennel.yaml, env overrides
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		logger.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting kennel",
		"version", version.Full(),
		"transport", cfg.Transport,
		"config_dir", *configDir)

	// 2. Build and start the server: subsystems, bus wiring, transport
	orch := server.NewOrchestrator(cfg, logger)
	if err := orch.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	// 3. Wait for a shutdown signal, an RPC shutdown request, or end of
	// the input stream
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-orch.Done():
		logger.Info("Server requested shutdown")
	}

	// 4. Graceful shutdown with a bounded budget
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := orch.Stop(shutdownCtx); err != nil {
			logger.Error("Shutdown finished with errors", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, exiting")
	}
}
