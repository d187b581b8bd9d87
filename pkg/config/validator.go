package config

import (
	"fmt"
	"net/url"
	"strconv"
)

// Validator performs range and consistency checks on a resolved Config.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation and returns the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateTransport(); err != nil {
		return err
	}
	if err := v.validateChain(); err != nil {
		return err
	}
	if err := v.validateHTTP(); err != nil {
		return err
	}
	if err := v.validateAnchor(); err != nil {
		return err
	}
	if err := v.validateDiscovery(); err != nil {
		return err
	}
	if err := v.validateScheduler(); err != nil {
		return err
	}
	return v.validatePeers()
}

func (v *Validator) validateTransport() error {
	switch v.cfg.Transport {
	case TransportStream, TransportHTTP:
	default:
		return NewValidationError("transport", "",
			fmt.Errorf("%w: %q (expected %q or %q)", ErrInvalidValue, v.cfg.Transport, TransportStream, TransportHTTP))
	}

	port, err := strconv.Atoi(v.cfg.HTTPPort)
	if err != nil || port < 1 || port > 65535 {
		return NewValidationError("transport", "http_port",
			fmt.Errorf("%w: %q", ErrInvalidValue, v.cfg.HTTPPort))
	}
	return nil
}

func (v *Validator) validateChain() error {
	c := v.cfg.Chain
	if c == nil {
		return NewValidationError("chain", "", ErrMissingRequiredField)
	}
	if c.BlockSize < 1 {
		return NewValidationError("chain", "block_size",
			fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidValue, c.BlockSize))
	}
	if c.BlockInterval <= 0 {
		return NewValidationError("chain", "block_interval",
			fmt.Errorf("%w: %s (must be positive)", ErrInvalidValue, c.BlockInterval))
	}
	return nil
}

func (v *Validator) validateHTTP() error {
	h := v.cfg.HTTP
	if h == nil {
		return NewValidationError("http", "", ErrMissingRequiredField)
	}
	if h.MaxBodyBytes < 1 {
		return NewValidationError("http", "max_body_bytes",
			fmt.Errorf("%w: %d", ErrInvalidValue, h.MaxBodyBytes))
	}
	for field, d := range map[string]int64{
		"request_timeout":     int64(h.RequestTimeout),
		"drain_timeout":       int64(h.DrainTimeout),
		"drain_poll_interval": int64(h.DrainPollInterval),
		"sse_keepalive":       int64(h.SSEKeepalive),
	} {
		if d <= 0 {
			return NewValidationError("http", field,
				fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}
	return nil
}

func (v *Validator) validateAnchor() error {
	a := v.cfg.Anchor
	if a == nil || !a.Enabled {
		return nil
	}
	if a.WalletPath == "" {
		return NewValidationError("anchor", "wallet_path", ErrMissingRequiredField)
	}
	if a.RPCURL == "" {
		return NewValidationError("anchor", "rpc_url", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateDiscovery() error {
	d := v.cfg.Discovery
	if d == nil {
		return NewValidationError("discovery", "", ErrMissingRequiredField)
	}
	if d.RepoURL != "" {
		u, err := url.Parse(d.RepoURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewValidationError("discovery", "repo_url",
				fmt.Errorf("%w: %q", ErrInvalidValue, d.RepoURL))
		}
	}
	if d.CacheTTL <= 0 {
		return NewValidationError("discovery", "cache_ttl",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s == nil {
		return NewValidationError("scheduler", "", ErrMissingRequiredField)
	}
	if s.RetentionDays < 1 {
		return NewValidationError("scheduler", "retention_days",
			fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidValue, s.RetentionDays))
	}
	return nil
}

func (v *Validator) validatePeers() error {
	for _, p := range v.cfg.Peers {
		u, err := url.Parse(p)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return NewValidationError("peers", "",
				fmt.Errorf("%w: %q (expected http(s) base URL)", ErrInvalidValue, p))
		}
	}
	return nil
}
