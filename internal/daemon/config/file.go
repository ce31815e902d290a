// internal/daemon/config/file.go
package config

// FileConfig represents the raw dispatchd.toml file contents.
// All fields are pointers to distinguish "not set" from "set to zero/false".
type FileConfig struct {
	Server   FileServerConfig   `toml:"server"`
	Dispatch FileDispatchConfig `toml:"dispatch"`
	Signer   FileSignerConfig   `toml:"signer"`
	Prices   FilePriceConfig    `toml:"prices"`
	Chains   []FileChainConfig  `toml:"chains"`
}

// FileServerConfig is the TOML representation of ServerConfig.
type FileServerConfig struct {
	DataDir       *string `toml:"data_dir"`
	LogLevel      *string `toml:"log_level"`
	MetricsListen *string `toml:"metrics_listen"`
}

// FileDispatchConfig is the TOML representation of DispatchConfig.
// Uses strings for duration values since TOML cannot decode directly to time.Duration.
type FileDispatchConfig struct {
	LedgerKey      *string `toml:"ledger_key"`
	RepollInterval *string `toml:"repoll_interval"`
	LeaseTTL       *string `toml:"lease_ttl"`
	Owner          *string `toml:"owner"`
}

// FileSignerConfig is the TOML representation of SignerConfig.
type FileSignerConfig struct {
	Enabled     *bool   `toml:"enabled"`
	KeyEnv      *string `toml:"key_env"`
	ConfirmEach *bool   `toml:"confirm_each"`
}

// FilePriceConfig is the TOML representation of PriceConfig.
type FilePriceConfig struct {
	Endpoint      *string  `toml:"endpoint"`
	RatePerSecond *float64 `toml:"rate_per_second"`
	CacheTTL      *string  `toml:"cache_ttl"`
	CacheSize     *int     `toml:"cache_size"`
}

// FileChainConfig is the TOML representation of ChainConfig.
type FileChainConfig struct {
	ChainID        int64  `toml:"chain_id"`
	Name           string `toml:"name"`
	RPCURL         string `toml:"rpc_url"`
	GatewayURL     string `toml:"gateway_url"`
	NativeSymbol   string `toml:"native_symbol"`
	NativeDecimals *int   `toml:"native_decimals"`
}

// IsEmpty returns true if no configuration values are set.
func (f *FileConfig) IsEmpty() bool {
	return f.Server.DataDir == nil &&
		f.Server.LogLevel == nil &&
		f.Server.MetricsListen == nil &&
		f.Dispatch.LedgerKey == nil &&
		f.Dispatch.RepollInterval == nil &&
		f.Dispatch.LeaseTTL == nil &&
		f.Dispatch.Owner == nil &&
		f.Signer.Enabled == nil &&
		f.Signer.KeyEnv == nil &&
		f.Signer.ConfirmEach == nil &&
		f.Prices.Endpoint == nil &&
		f.Prices.RatePerSecond == nil &&
		f.Prices.CacheTTL == nil &&
		f.Prices.CacheSize == nil &&
		len(f.Chains) == 0
}
