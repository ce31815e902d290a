// cmd/dispatchd/logs.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/xchain-dispatch/internal/output"
)

func newLogsCmd() *cobra.Command {
	var (
		lines      int
		dispatchID string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent dispatcher log lines",
		Long: `Logs prints the tail of the dispatchd log file in the data directory.
Use --dispatch to only show the lines of one dispatch group.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			match := ""
			if dispatchID != "" {
				match = "dispatchId=" + dispatchID
			}
			tail, err := output.TailLog(cfg.LogPath(), lines, match)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", output.DefaultLogLines, "Number of lines to show")
	cmd.Flags().StringVar(&dispatchID, "dispatch", "", "Only show lines of this dispatch group")

	return cmd
}
