// cmd/dispatchd/submit.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/controller"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
	"github.com/altuslabsxyz/xchain-dispatch/internal/output"
)

func newSubmitCmd() *cobra.Command {
	var (
		yes  bool
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "submit <blocks.json>",
		Short: "Build, estimate and dispatch actions",
		Long: `Submit builds the blocks like plan, asks for confirmation and commits
them as one dispatch group. It then runs the dispatcher until every action
was sent, or with --wait until every transaction settled.

Groups left pending are resumed by the next run or submit.`,
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

			blocks, err := readBlocks(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, appOptions{dial: true})
			if err != nil {
				return err
			}
			defer a.Close()

			actions, err := a.build(ctx, blocks)
			if err != nil {
				return err
			}
			if err := printPlan(log.Writer(), actions, "text"); err != nil {
				return err
			}

			if !yes {
				ok, err := output.Confirm(fmt.Sprintf("Dispatch %d actions", len(actions)))
				if err != nil {
					return err
				}
				if !ok {
					log.Info("Aborted.")
					return nil
				}
			}

			return dispatch(ctx, a, actions, wait, log)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until every transaction is confirmed or failed")

	return cmd
}

// dispatch commits actions and runs the dispatcher until the group is sent
// (or settled when wait is set).
func dispatch(ctx context.Context, a *app, actions []*types.CrossChainAction, wait bool, log *output.Logger) error {
	d := a.dispatcher
	updates, unsubscribe := d.Subscribe()
	defer unsubscribe()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runErr := make(chan error, 1)
	go func() {
		runErr <- d.Run(runCtx)
	}()

	id, err := d.Submit(ctx, actions)
	if err != nil {
		cancelRun()
		<-runErr
		return err
	}
	key := id.String()
	log.Success("Dispatch %s committed", key)

	w := &eventWatcher{dispatcher: d, id: key, log: log}
	if output.IsInteractive() {
		w.spinner = output.NewSpinner(log.Writer())
		w.status = "dispatch " + key + ": waiting"
		w.spinner.Start(w.status)
		defer w.stopSpinner()
	}
	for {
		select {
		case <-ctx.Done():
			cancelRun()
			<-runErr
			w.stopSpinner()
			log.Warn("interrupted; dispatch %s is resumed by the next run", key)
			return nil
		case err := <-runErr:
			w.flush()
			w.stopSpinner()
			if err == nil {
				err = errors.New("dispatcher stopped")
			}
			return err
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			w.update(snap)
			w.flush()
			if done, failed := groupDone(snap, key, wait); done {
				cancelRun()
				<-runErr
				w.flush()
				w.stopSpinner()
				if failed || w.failed {
					return fmt.Errorf("dispatch %s failed", key)
				}
				if wait {
					log.Success("Dispatch %s completed", key)
				} else {
					log.Success("Dispatch %s sent; run dispatchd status to follow it", key)
				}
				return nil
			}
		}
	}
}

// groupDone reports whether the group reached the point submit waits for.
// A group missing from the snapshot completed or was aborted.
func groupDone(snap controller.Snapshot, key string, wait bool) (done, failed bool) {
	var group *types.Group
	for _, g := range snap.Groups {
		if g.ID.String() == key {
			group = g
			break
		}
	}
	if group == nil {
		return true, false
	}
	if snap.Processing[key] != "" {
		return false, false
	}
	for _, a := range group.Actions {
		if a.HasStatus(types.TxStatusFailed) || a.HasStatus(types.TxStatusRejectedByUser) {
			return !group.HasUnsent() && !(wait && group.HasPending()), true
		}
	}
	if wait {
		return false, false
	}
	return !group.HasUnsent(), false
}

// eventWatcher prints the dispatcher events of one group once each and
// keeps the progress spinner current.
type eventWatcher struct {
	dispatcher *controller.Dispatcher
	id         string
	log        *output.Logger
	lastSeq    uint64
	failed     bool

	spinner *output.Spinner
	status  string
}

func (w *eventWatcher) update(snap controller.Snapshot) {
	if w.spinner == nil {
		return
	}
	for _, g := range snap.Groups {
		if g.ID.String() == w.id {
			w.status = "dispatch " + w.id + ": " + output.Progress(g)
			w.spinner.Update(w.status)
			return
		}
	}
}

func (w *eventWatcher) stopSpinner() {
	if w.spinner != nil {
		w.spinner.Stop()
		w.spinner = nil
	}
}

func (w *eventWatcher) flush() {
	var fresh []types.Event
	fresh, w.lastSeq = groupEventsAfter(w.dispatcher.EventsSince(w.lastSeq), w.id, w.lastSeq)
	if len(fresh) > 0 && w.spinner != nil {
		w.spinner.Stop()
		defer w.spinner.Start(w.status)
	}
	for _, e := range fresh {
		switch {
		case e.IsAlert():
			w.failed = true
			w.log.Alert(e.Message)
		case e.Reason == types.ReasonDispatched:
		default:
			w.log.Info("  %s: %s", e.Reason, e.Message)
		}
	}
}

// groupEventsAfter returns the events of one group numbered above after and
// the highest sequence number seen across all groups.
func groupEventsAfter(events []types.Event, id string, after uint64) ([]types.Event, uint64) {
	var fresh []types.Event
	last := after
	for _, e := range events {
		if e.Seq <= after {
			continue
		}
		last = max(last, e.Seq)
		if e.DispatchID == id {
			fresh = append(fresh, e)
		}
	}
	return fresh, last
}
