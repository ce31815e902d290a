// cmd/dispatchd/main.go
package main

import (
	"fmt"
	"os"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/config"
	"github.com/altuslabsxyz/xchain-dispatch/internal/version"
	"github.com/spf13/cobra"
)

// Flag variables for CLI overrides
var (
	flagConfigPath string
	flagDataDir    string
	flagLogLevel   string
	flagNoColor    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatchd",
		Short: "Cross-chain action dispatcher",
		Long: `dispatchd builds cross-chain actions, submits them in order and
tracks every transaction until it is confirmed or failed.`,
		SilenceUsage: true,
	}

	defaults := config.DefaultConfig()

	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Config file path (default: ~/.dispatchd/dispatchd.toml)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", fmt.Sprintf("Data directory (default: %s)", defaults.Server.DataDir))
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", fmt.Sprintf("Log level: debug, info, warn, error (default: %s)", defaults.Server.LogLevel))
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newLogsCmd(),
		newConfigCmd(),
		version.NewCmd("dispatchd"),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads defaults < file < env, applies CLI flags and validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dataDir := config.DefaultDataDir()
	if flagDataDir != "" {
		dataDir = flagDataDir
	}

	loader := config.NewLoader(dataDir, flagConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	applyFlagOverrides(cmd, cfg)

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlagOverrides applies CLI flags to config (highest priority).
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("data-dir") {
		cfg.Server.DataDir = flagDataDir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Server.LogLevel = flagLogLevel
	}
}
