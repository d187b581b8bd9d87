package config

import "time"

// DefaultHTTPPort is the listen port when none is configured.
const DefaultHTTPPort = "3000"

// DefaultChainConfig returns the built-in block sealing defaults.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		BlockSize:     8,
		BlockInterval: 2 * time.Minute,
	}
}

// DefaultHTTPConfig returns the built-in HTTP adapter defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxBodyBytes:      1 << 20,
		RequestTimeout:    30 * time.Second,
		DrainTimeout:      10 * time.Second,
		DrainPollInterval: 100 * time.Millisecond,
		SSEKeepalive:      30 * time.Second,
	}
}

// DefaultAnchorConfig returns the built-in anchoring defaults (disabled).
func DefaultAnchorConfig() *AnchorConfig {
	return &AnchorConfig{
		Enabled:    false,
		WalletPath: "./wallet.json",
		RPCURL:     "https://api.devnet.solana.com",
	}
}

// DefaultDiscoveryConfig returns the built-in library discovery defaults.
func DefaultDiscoveryConfig() *DiscoveryConfig {
	return &DiscoveryConfig{
		RepoURL:        "https://raw.githubusercontent.com/goodboyai/kennel-library/main",
		CacheTTL:       5 * time.Minute,
		AllowedDomains: []string{"github.com", "raw.githubusercontent.com"},
		TokenEnv:       "GITHUB_TOKEN",
	}
}

// DefaultJudgeConfig returns the built-in judge tuning (no overrides).
func DefaultJudgeConfig() *JudgeConfig {
	return &JudgeConfig{}
}

// DefaultSchedulerConfig returns the built-in cron defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RetentionCron: "0 3 * * *",
		RetentionDays: 30,
		DigestCron:    "0 8 * * *",
		AnchorCron:    "@every 10m",
	}
}

// defaultConfig assembles the full built-in configuration.
func defaultConfig() *Config {
	return &Config{
		Transport: TransportStream,
		HTTPPort:  DefaultHTTPPort,
		Chain:     DefaultChainConfig(),
		HTTP:      DefaultHTTPConfig(),
		Anchor:    DefaultAnchorConfig(),
		Discovery: DefaultDiscoveryConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Judge:     DefaultJudgeConfig(),
	}
}
