// Package config loads and validates kennel runtime configuration.
//
// Resolution order (later wins): built-in defaults, optional kennel.yaml in
// the config directory, environment variables. Connection URLs (database,
// cache) are environment-only and never read from YAML.
package config

import "strings"

// Transport modes.
const (
	// TransportStream serves JSON-RPC over stdin/stdout, one envelope per line.
	TransportStream = "stream"
	// TransportHTTP serves JSON-RPC over HTTP with an SSE event stream.
	TransportHTTP = "http"
)

// Config is the resolved runtime configuration.
type Config struct {
	configDir string

	// Transport selects the serving mode: TransportStream or TransportHTTP.
	Transport string `yaml:"transport"`

	// HTTPPort is the listen port in http mode.
	HTTPPort string `yaml:"http_port"`

	// DataDir enables the filesystem persistence fallback when non-empty.
	DataDir string `yaml:"data_dir"`

	// DatabaseURL enables durable Postgres persistence when non-empty.
	// Environment-only (DATABASE_URL).
	DatabaseURL string `yaml:"-"`

	// RedisURL enables the session cache store when non-empty.
	// Environment-only (REDIS_URL).
	RedisURL string `yaml:"-"`

	// Peers lists base URLs of peer nodes for best-effort judgment forwarding.
	Peers []string `yaml:"peers"`

	Chain     *ChainConfig     `yaml:"chain"`
	HTTP      *HTTPConfig      `yaml:"http"`
	Anchor    *AnchorConfig    `yaml:"anchor"`
	Discovery *DiscoveryConfig `yaml:"discovery"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Judge     *JudgeConfig     `yaml:"judge"`
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// HTTPMode reports whether the HTTP transport is selected.
func (c *Config) HTTPMode() bool {
	return c.Transport == TransportHTTP
}

// Stats summarises the resolved configuration for startup logging.
// Secrets (connection URLs) are reported as booleans only.
type Stats struct {
	Transport     string
	DurableStore  bool
	CacheStore    bool
	FileFallback  bool
	Peers         int
	AnchorEnabled bool
}

// Stats returns a loggable summary of the configuration.
func (c *Config) Stats() Stats {
	return Stats{
		Transport:     c.Transport,
		DurableStore:  c.DatabaseURL != "",
		CacheStore:    c.RedisURL != "",
		FileFallback:  c.DataDir != "",
		Peers:         len(c.Peers),
		AnchorEnabled: c.Anchor != nil && c.Anchor.Enabled,
	}
}

// splitPeers parses a comma-separated peer list, trimming whitespace and
// dropping empty entries.
func splitPeers(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	peers := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		peers = append(peers, strings.TrimRight(p, "/"))
	}
	return peers
}
