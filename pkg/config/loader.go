package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Environment variable names. Connection URLs are environment-only so that
// secrets never live in YAML files.
const (
	EnvTransport     = "KENNEL_TRANSPORT"
	EnvHTTPPort      = "KENNEL_HTTP_PORT"
	EnvDataDir       = "KENNEL_DATA_DIR"
	EnvDatabaseURL   = "DATABASE_URL"
	EnvRedisURL      = "REDIS_URL"
	EnvPeers         = "KENNEL_PEERS"
	EnvAnchor        = "KENNEL_ANCHOR"
	EnvWalletPath    = "KENNEL_WALLET_PATH"
	EnvBlockSize     = "KENNEL_BLOCK_SIZE"
	EnvBlockInterval = "KENNEL_BLOCK_INTERVAL"
	EnvLibraryRepo   = "KENNEL_LIBRARY_REPO"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Load optional kennel.yaml from configDir (environment-expanded)
//  3. Merge YAML values over defaults
//  4. Apply environment variable overrides
//  5. Validate the resolved configuration
//
// A missing kennel.yaml is not an error: the environment alone is a complete
// configuration surface.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"transport", stats.Transport,
		"durable_store", stats.DurableStore,
		"cache_store", stats.CacheStore,
		"file_fallback", stats.FileFallback,
		"peers", stats.Peers,
		"anchor", stats.AnchorEnabled)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	cfg := defaultConfig()
	cfg.configDir = configDir

	loader := &configLoader{configDir: configDir}

	fileCfg, found, err := loader.loadKennelYAML()
	if err != nil {
		return nil, NewLoadError("kennel.yaml", err)
	}
	if found {
		// Merge user-provided config into defaults (non-zero values override)
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge kennel.yaml: %w", err)
		}
		slog.Debug("Merged kennel.yaml", "path", filepath.Join(configDir, "kennel.yaml"))
	}

	applyEnvOverrides(cfg)

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))

	return cfg, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

// loadKennelYAML reads and parses kennel.yaml if present.
// Returns found=false when the file does not exist.
func (l *configLoader) loadKennelYAML() (*Config, bool, error) {
	path := filepath.Join(l.configDir, "kennel.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, true, nil
}

// applyEnvOverrides applies recognised environment variables on top of the
// merged configuration. Malformed numeric/duration values are logged and
// ignored rather than failing startup.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvTransport); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		cfg.HTTPPort = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv(EnvPeers); v != "" {
		cfg.Peers = splitPeers(v)
	}
	if v := os.Getenv(EnvAnchor); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Anchor.Enabled = b
		} else {
			slog.Warn("Invalid anchor flag, ignoring", "var", EnvAnchor, "value", v)
		}
	}
	if v := os.Getenv(EnvWalletPath); v != "" {
		cfg.Anchor.WalletPath = v
	}
	if v := os.Getenv(EnvBlockSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chain.BlockSize = n
		} else {
			slog.Warn("Invalid block size, ignoring", "var", EnvBlockSize, "value", v)
		}
	}
	if v := os.Getenv(EnvBlockInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Chain.BlockInterval = d
		} else {
			slog.Warn("Invalid block interval, ignoring", "var", EnvBlockInterval, "value", v)
		}
	}
	if v := os.Getenv(EnvLibraryRepo); v != "" {
		cfg.Discovery.RepoURL = v
	}
}
