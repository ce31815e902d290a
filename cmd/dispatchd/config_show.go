// cmd/dispatchd/config_show.go
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/config"
	"github.com/spf13/cobra"
)

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  `Displays the effective configuration after merging defaults, file, environment variables and flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	return cmd
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Effective dispatchd configuration:")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[server]")
	fmt.Fprintf(w, "  data_dir        = %q\n", cfg.Server.DataDir)
	fmt.Fprintf(w, "  log_level       = %q\n", cfg.Server.LogLevel)
	fmt.Fprintf(w, "  metrics_listen  = %q\n", cfg.Server.MetricsListen)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[dispatch]")
	fmt.Fprintf(w, "  ledger_key      = %q\n", cfg.Dispatch.LedgerKey)
	fmt.Fprintf(w, "  repoll_interval = %s\n", cfg.Dispatch.RepollInterval)
	fmt.Fprintf(w, "  lease_ttl       = %s\n", cfg.Dispatch.LeaseTTL)
	fmt.Fprintf(w, "  owner           = %q\n", cfg.LeaseOwner())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[signer]")
	fmt.Fprintf(w, "  enabled         = %v\n", cfg.Signer.Enabled)
	fmt.Fprintf(w, "  key_env         = %q\n", cfg.Signer.KeyEnv)
	fmt.Fprintf(w, "  confirm_each    = %v\n", cfg.Signer.ConfirmEach)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[prices]")
	fmt.Fprintf(w, "  endpoint        = %q\n", cfg.Prices.Endpoint)
	fmt.Fprintf(w, "  rate_per_second = %g\n", cfg.Prices.RatePerSecond)
	fmt.Fprintf(w, "  cache_ttl       = %s\n", cfg.Prices.CacheTTL)
	fmt.Fprintf(w, "  cache_size      = %d\n", cfg.Prices.CacheSize)
	for _, chain := range cfg.Chains {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "[[chains]]")
		fmt.Fprintf(w, "  chain_id        = %d\n", chain.ChainID)
		fmt.Fprintf(w, "  name            = %q\n", chain.Name)
		fmt.Fprintf(w, "  rpc_url         = %q\n", chain.RPCURL)
		fmt.Fprintf(w, "  gateway_url     = %q\n", chain.GatewayURL)
		fmt.Fprintf(w, "  native_symbol   = %q\n", chain.NativeSymbol)
		fmt.Fprintf(w, "  native_decimals = %d\n", chain.NativeDecimals)
	}
}
