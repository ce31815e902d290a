// cmd/dispatchd/run.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	var metricsListen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dispatcher until interrupted",
		Long: `Run resumes every persisted dispatch group, submits queued actions
in order and tracks pending transactions until they settle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-listen") {
				cfg.Server.MetricsListen = metricsListen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, appOptions{logToStdout: true, dial: true})
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info("starting dispatchd",
				"data_dir", cfg.Server.DataDir,
				"chains", len(cfg.Chains),
				"external_signer", a.signer != nil,
				"owner", cfg.LeaseOwner())

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.dispatcher.Run(gctx)
			})

			if cfg.Server.MetricsListen != "" {
				srv := &http.Server{
					Addr:              cfg.Server.MetricsListen,
					Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				g.Go(func() error {
					a.logger.Info("serving metrics", "address", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			err = g.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(os.Stderr, "dispatchd stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve prometheus metrics on this address, e.g. :9090")

	return cmd
}
