// internal/daemon/config/config.go
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/store"
)

// Config is the single source of truth for dispatchd configuration.
// Priority: defaults < config file < environment variables < CLI flags
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Signer   SignerConfig   `toml:"signer"`
	Prices   PriceConfig    `toml:"prices"`
	Chains   []ChainConfig  `toml:"chains"`
}

// ServerConfig holds core server settings.
type ServerConfig struct {
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`

	// MetricsListen is the TCP address prometheus metrics are served on,
	// empty = disabled
	MetricsListen string `toml:"metrics_listen"`
}

// DispatchConfig holds dispatcher settings.
type DispatchConfig struct {
	LedgerKey      string        `toml:"ledger_key"`
	RepollInterval time.Duration `toml:"repoll_interval"`
	LeaseTTL       time.Duration `toml:"lease_ttl"`
	// Owner names this instance in the ledger lease. Empty uses the hostname.
	Owner string `toml:"owner"`
}

// SignerConfig holds the external signer settings.
type SignerConfig struct {
	Enabled bool `toml:"enabled"`
	// KeyEnv is the environment variable holding the hex private key.
	KeyEnv string `toml:"key_env"`
	// ConfirmEach asks on the terminal before every signature.
	ConfirmEach bool `toml:"confirm_each"`
}

// PriceConfig holds price service settings.
type PriceConfig struct {
	Endpoint      string        `toml:"endpoint"`
	RatePerSecond float64       `toml:"rate_per_second"`
	CacheTTL      time.Duration `toml:"cache_ttl"`
	CacheSize     int           `toml:"cache_size"`
}

// ChainConfig describes one chain the dispatcher submits to.
type ChainConfig struct {
	ChainID        int64  `toml:"chain_id"`
	Name           string `toml:"name"`
	RPCURL         string `toml:"rpc_url"`
	GatewayURL     string `toml:"gateway_url"`
	NativeSymbol   string `toml:"native_symbol"`
	NativeDecimals int    `toml:"native_decimals"`
}

// Chain returns the chain with the given id.
func (c *Config) Chain(id int64) (ChainConfig, bool) {
	for _, chain := range c.Chains {
		if chain.ChainID == id {
			return chain, true
		}
	}
	return ChainConfig{}, false
}

// LedgerPath returns the bbolt file holding the ledger.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Server.DataDir, "ledger.db")
}

// LogPath returns the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Server.DataDir, "dispatchd.log")
}

// LeaseOwner returns the configured owner or the hostname.
func (c *Config) LeaseOwner() string {
	if c.Dispatch.Owner != "" {
		return c.Dispatch.Owner
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "dispatchd"
	}
	return host
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dispatchd")
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:  DefaultDataDir(),
			LogLevel: "info",
		},
		Dispatch: DispatchConfig{
			LedgerKey:      store.DefaultLedgerKey,
			RepollInterval: 10 * time.Second,
			LeaseTTL:       time.Minute,
		},
		Signer: SignerConfig{
			Enabled: false,
			KeyEnv:  "DISPATCHD_SIGNER_KEY",
		},
		Prices: PriceConfig{
			RatePerSecond: 5,
			CacheTTL:      time.Minute,
			CacheSize:     512,
		},
	}
}
