// internal/daemon/config/validate.go
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidLogLevels are the allowed log level values.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration and returns an error if invalid.
func Validate(cfg *Config) error {
	var errs []string

	// Validate log level
	validLevel := false
	for _, level := range ValidLogLevels {
		if cfg.Server.LogLevel == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		errs = append(errs, fmt.Sprintf("invalid log_level %q (must be one of: %s)",
			cfg.Server.LogLevel, strings.Join(ValidLogLevels, ", ")))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}

	// Validate dispatch
	if cfg.Dispatch.LedgerKey == "" {
		errs = append(errs, "ledger_key is required")
	}
	if cfg.Dispatch.RepollInterval <= 0 {
		errs = append(errs, "repoll_interval must be positive")
	}
	if cfg.Dispatch.LeaseTTL <= cfg.Dispatch.RepollInterval {
		errs = append(errs, "lease_ttl must be longer than repoll_interval")
	}

	// Validate signer
	if cfg.Signer.Enabled && cfg.Signer.KeyEnv == "" {
		errs = append(errs, "key_env is required when the signer is enabled")
	}

	// Validate prices
	if cfg.Prices.Endpoint != "" {
		if !validURL(cfg.Prices.Endpoint, "http", "https") {
			errs = append(errs, fmt.Sprintf("invalid prices endpoint %q", cfg.Prices.Endpoint))
		}
		if cfg.Prices.RatePerSecond <= 0 {
			errs = append(errs, "rate_per_second must be positive")
		}
		if cfg.Prices.CacheSize < 1 {
			errs = append(errs, "cache_size must be at least 1")
		}
		if cfg.Prices.CacheTTL < 0 {
			errs = append(errs, "cache_ttl must be non-negative")
		}
	}

	// Validate chains
	seen := make(map[int64]bool)
	for i, chain := range cfg.Chains {
		name := chain.Name
		if name == "" {
			name = fmt.Sprintf("chains[%d]", i)
		}
		if chain.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("%s: chain_id must be positive", name))
		}
		if seen[chain.ChainID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate chain_id %d", name, chain.ChainID))
		}
		seen[chain.ChainID] = true
		if !validURL(chain.RPCURL, "http", "https", "ws", "wss") {
			errs = append(errs, fmt.Sprintf("%s: invalid rpc_url %q", name, chain.RPCURL))
		}
		if !validURL(chain.GatewayURL, "http", "https", "ws", "wss") {
			errs = append(errs, fmt.Sprintf("%s: invalid gateway_url %q", name, chain.GatewayURL))
		}
		if chain.NativeDecimals < 0 || chain.NativeDecimals > 36 {
			errs = append(errs, fmt.Sprintf("%s: native_decimals must be between 0 and 36", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validURL(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}
