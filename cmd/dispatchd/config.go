// cmd/dispatchd/config.go
package main

import "github.com/spf13/cobra"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage dispatchd configuration",
		Long:  `Commands for inspecting dispatchd configuration.`,
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}
