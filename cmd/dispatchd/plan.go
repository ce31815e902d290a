// cmd/dispatchd/plan.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/builder"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
	"github.com/altuslabsxyz/xchain-dispatch/internal/output"
)

func newPlanCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "plan <blocks.json>",
		Short: "Build and estimate actions without submitting them",
		Long: `Plan builds the action blocks in the given file (or stdin with "-")
into cross-chain actions and prints each with its estimated fee.

The file holds a JSON array of blocks:

  [{"id": "b1", "type": "send", "chainId": 1,
    "values": {"to": "0x...", "asset": "0x0000000000000000000000000000000000000000", "amount": "0x2386f26fc10000"}}]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			blocks, err := readBlocks(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), cfg, appOptions{dial: true, noLedger: true})
			if err != nil {
				return err
			}
			defer a.Close()

			actions, err := a.build(cmd.Context(), blocks)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), actions, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")

	return cmd
}

// readBlocks decodes the JSON block list at path, "-" reading stdin.
func readBlocks(stdin io.Reader, path string) ([]builder.Block, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open blocks file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var blocks []builder.Block
	if err := json.NewDecoder(r).Decode(&blocks); err != nil {
		return nil, fmt.Errorf("failed to parse blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no blocks in %s", path)
	}
	return blocks, nil
}

func printPlan(w io.Writer, actions []*types.CrossChainAction, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(actions)
	case "text", "":
		output.PrintActions(w, actions, "")
		for _, a := range actions {
			if a.Estimated != nil && a.Estimated.Error != "" {
				fmt.Fprintf(w, "\naction %s cannot be dispatched: %s\n", a.ID, a.Estimated.Error)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
