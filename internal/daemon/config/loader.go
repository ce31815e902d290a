// internal/daemon/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "dispatchd.toml"

// Environment variable names
const (
	EnvDataDir        = "DISPATCHD_DATA_DIR"
	EnvLogLevel       = "DISPATCHD_LOG_LEVEL"
	EnvMetricsListen  = "DISPATCHD_METRICS_LISTEN"
	EnvLedgerKey      = "DISPATCHD_LEDGER_KEY"
	EnvRepollInterval = "DISPATCHD_REPOLL_INTERVAL"
	EnvLeaseTTL       = "DISPATCHD_LEASE_TTL"
	EnvOwner          = "DISPATCHD_OWNER"
	EnvSignerEnabled  = "DISPATCHD_SIGNER_ENABLED"
	EnvPriceEndpoint  = "DISPATCHD_PRICE_ENDPOINT"
)

// Loader loads configuration from file, environment, and applies defaults.
type Loader struct {
	dataDir    string
	configPath string // explicit config path (empty = use default)
}

// NewLoader creates a new config loader.
// dataDir is the base data directory (for finding dispatchd.toml).
// configPath is an explicit config file path (empty = use dataDir/dispatchd.toml).
func NewLoader(dataDir, configPath string) *Loader {
	return &Loader{
		dataDir:    dataDir,
		configPath: configPath,
	}
}

// Load loads configuration with priority: defaults < file < env.
// Returns fully populated Config ready for use.
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Override dataDir if provided
	if l.dataDir != "" {
		cfg.Server.DataDir = l.dataDir
	}

	// Load from file
	fileCfg, err := l.loadFile(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}

	// Merge file config into defaults
	if fileCfg != nil {
		if err := mergeFileConfig(cfg, fileCfg); err != nil {
			return nil, err
		}
	}

	// Apply environment variables (highest priority before flags)
	if err := applyEnvVars(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads and parses the config file.
// Returns nil if no config file exists (not an error).
func (l *Loader) loadFile(dataDir string) (*FileConfig, error) {
	configPath := l.configPath
	if configPath == "" {
		configPath = filepath.Join(dataDir, ConfigFileName)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) && l.configPath == "" {
			return nil, nil // No config file is OK
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileCfg FileConfig
	if err := toml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("invalid TOML in %s: %w", configPath, err)
	}

	return &fileCfg, nil
}

// mergeFileConfig merges non-nil FileConfig values into Config.
func mergeFileConfig(cfg *Config, file *FileConfig) error {
	// Server
	if file.Server.DataDir != nil {
		cfg.Server.DataDir = *file.Server.DataDir
	}
	if file.Server.LogLevel != nil {
		cfg.Server.LogLevel = *file.Server.LogLevel
	}
	if file.Server.MetricsListen != nil {
		cfg.Server.MetricsListen = *file.Server.MetricsListen
	}

	// Dispatch (parse duration strings)
	if file.Dispatch.LedgerKey != nil {
		cfg.Dispatch.LedgerKey = *file.Dispatch.LedgerKey
	}
	if err := parseDuration("dispatch.repoll_interval", file.Dispatch.RepollInterval, &cfg.Dispatch.RepollInterval); err != nil {
		return err
	}
	if err := parseDuration("dispatch.lease_ttl", file.Dispatch.LeaseTTL, &cfg.Dispatch.LeaseTTL); err != nil {
		return err
	}
	if file.Dispatch.Owner != nil {
		cfg.Dispatch.Owner = *file.Dispatch.Owner
	}

	// Signer
	if file.Signer.Enabled != nil {
		cfg.Signer.Enabled = *file.Signer.Enabled
	}
	if file.Signer.KeyEnv != nil {
		cfg.Signer.KeyEnv = *file.Signer.KeyEnv
	}
	if file.Signer.ConfirmEach != nil {
		cfg.Signer.ConfirmEach = *file.Signer.ConfirmEach
	}

	// Prices
	if file.Prices.Endpoint != nil {
		cfg.Prices.Endpoint = *file.Prices.Endpoint
	}
	if file.Prices.RatePerSecond != nil {
		cfg.Prices.RatePerSecond = *file.Prices.RatePerSecond
	}
	if err := parseDuration("prices.cache_ttl", file.Prices.CacheTTL, &cfg.Prices.CacheTTL); err != nil {
		return err
	}
	if file.Prices.CacheSize != nil {
		cfg.Prices.CacheSize = *file.Prices.CacheSize
	}

	// Chains replace the defaults as a whole
	if len(file.Chains) > 0 {
		cfg.Chains = make([]ChainConfig, 0, len(file.Chains))
		for _, c := range file.Chains {
			chain := ChainConfig{
				ChainID:        c.ChainID,
				Name:           c.Name,
				RPCURL:         c.RPCURL,
				GatewayURL:     c.GatewayURL,
				NativeSymbol:   c.NativeSymbol,
				NativeDecimals: 18,
			}
			if c.NativeDecimals != nil {
				chain.NativeDecimals = *c.NativeDecimals
			}
			if chain.NativeSymbol == "" {
				chain.NativeSymbol = "ETH"
			}
			cfg.Chains = append(cfg.Chains, chain)
		}
	}
	return nil
}

func parseDuration(name string, raw *string, dst *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, *raw, err)
	}
	*dst = d
	return nil
}

// applyEnvVars applies environment variable overrides to config.
func applyEnvVars(cfg *Config) error {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv(EnvMetricsListen); v != "" {
		cfg.Server.MetricsListen = v
	}
	if v := os.Getenv(EnvLedgerKey); v != "" {
		cfg.Dispatch.LedgerKey = v
	}
	if v := os.Getenv(EnvRepollInterval); v != "" {
		if err := parseDuration(EnvRepollInterval, &v, &cfg.Dispatch.RepollInterval); err != nil {
			return err
		}
	}
	if v := os.Getenv(EnvLeaseTTL); v != "" {
		if err := parseDuration(EnvLeaseTTL, &v, &cfg.Dispatch.LeaseTTL); err != nil {
			return err
		}
	}
	if v := os.Getenv(EnvOwner); v != "" {
		cfg.Dispatch.Owner = v
	}
	if v := os.Getenv(EnvSignerEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvSignerEnabled, v, err)
		}
		cfg.Signer.Enabled = enabled
	}
	if v := os.Getenv(EnvPriceEndpoint); v != "" {
		cfg.Prices.Endpoint = v
	}
	return nil
}
