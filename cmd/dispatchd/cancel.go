// cmd/dispatchd/cancel.go
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/controller"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/store"
	"github.com/altuslabsxyz/xchain-dispatch/internal/output"
)

func newCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <dispatch-id>",
		Short: "Remove a dispatch group that has not been submitted",
		Long: `Cancel removes a queued dispatch group from the ledger. Groups with any
transaction already sent cannot be cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := output.NewLoggerTo(cmd.OutOrStdout(), cmd.ErrOrStderr())
			if flagNoColor {
				log.SetNoColor(true)
			}

			a, err := openApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.dispatcher.Cancel(cmd.Context(), args[0])
			switch {
			case err == nil:
				log.Success("Dispatch %s cancelled", args[0])
				return nil
			case store.IsNotFound(err):
				return fmt.Errorf("dispatch %s not found", args[0])
			case errors.Is(err, controller.ErrAlreadySubmitted):
				return fmt.Errorf("dispatch %s has transactions on chain and cannot be cancelled", args[0])
			default:
				return err
			}
		},
	}

	return cmd
}
