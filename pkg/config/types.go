package config

import "time"

// ChainConfig controls Proof-of-Judgment block sealing.
type ChainConfig struct {
	// BlockSize is the number of buffered judgments that triggers a seal.
	BlockSize int `yaml:"block_size"`

	// BlockInterval is the maximum age of a non-empty pending buffer before
	// a time-triggered seal.
	BlockInterval time.Duration `yaml:"block_interval"`
}

// HTTPConfig controls the HTTP adapter's request handling limits.
type HTTPConfig struct {
	// MaxBodyBytes is the hard cap on a JSON-RPC request body.
	// Exceeding it yields HTTP 413 with a -32000 error envelope.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// RequestTimeout rejects stalled JSON-RPC requests with HTTP 408.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DrainTimeout is the max time to wait for in-flight requests on shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// DrainPollInterval is how often the active-request count is checked
	// while draining.
	DrainPollInterval time.Duration `yaml:"drain_poll_interval"`

	// SSEKeepalive is the interval between comment keepalives on idle
	// event streams.
	SSEKeepalive time.Duration `yaml:"sse_keepalive"`
}

// AnchorConfig controls optional Solana anchoring of sealed block hashes.
type AnchorConfig struct {
	// Enabled turns anchoring on. Off by default.
	Enabled bool `yaml:"enabled"`

	// WalletPath is the JSON keypair file used to sign anchor memos.
	WalletPath string `yaml:"wallet_path"`

	// RPCURL is the Solana RPC endpoint.
	RPCURL string `yaml:"rpc_url"`
}

// DiscoveryConfig controls outbound library-card lookups.
type DiscoveryConfig struct {
	// RepoURL is the base raw-content URL of the library index repository.
	RepoURL string `yaml:"repo_url"`

	// CacheTTL bounds how long fetched cards are served from cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// AllowedDomains restricts which hosts cards may be fetched from.
	AllowedDomains []string `yaml:"allowed_domains"`

	// TokenEnv names the environment variable holding the GitHub token
	// for authenticated fetches.
	TokenEnv string `yaml:"token_env"`
}

// JudgeConfig tunes the deterministic axiom engine.
type JudgeConfig struct {
	// AxiomWeights overrides built-in axiom weights by name. A zero or
	// negative weight removes the axiom from the active set.
	AxiomWeights map[string]float64 `yaml:"axiom_weights"`
}

// SchedulerConfig controls background cron jobs.
type SchedulerConfig struct {
	// RetentionCron schedules the storage retention sweep.
	RetentionCron string `yaml:"retention_cron"`

	// RetentionDays is how long judgments and events are kept.
	RetentionDays int `yaml:"retention_days"`

	// DigestCron schedules the activity digest.
	DigestCron string `yaml:"digest_cron"`

	// AnchorCron schedules anchor submissions when anchoring is enabled.
	AnchorCron string `yaml:"anchor_cron"`
}
