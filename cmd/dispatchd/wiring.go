// cmd/dispatchd/wiring.go
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/builder"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/config"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/controller"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/estimator"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/store"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
	"github.com/altuslabsxyz/xchain-dispatch/internal/infrastructure/evm"
	"github.com/altuslabsxyz/xchain-dispatch/internal/infrastructure/price"
	"github.com/altuslabsxyz/xchain-dispatch/internal/output"
)

// app holds the wired components of one dispatchd invocation.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	logFile    *os.File
	db         *store.BoltStore
	gateway    *evm.RPCGateway
	signer     *evm.EthSigner
	estimator  *estimator.Estimator
	dispatcher *controller.Dispatcher
	registry   *prometheus.Registry
}

type appOptions struct {
	// logToStdout mirrors logs to stdout next to the log file.
	logToStdout bool
	// dial connects to the configured chains.
	dial bool
	// noLedger skips opening the ledger and the dispatcher.
	noLedger bool
}

// newLogger writes logs to the data dir log file and, optionally, stdout.
func newLogger(cfg *config.Config, toStdout bool) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	level := slog.LevelInfo
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var w io.Writer = logFile
	if toStdout {
		w = io.MultiWriter(os.Stdout, logFile)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), logFile, nil
}

// openApp wires the estimator and, unless opts.noLedger is set, opens the
// ledger and the dispatcher. Chains are only dialed when opts.dial is set.
func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	logger, logFile, err := newLogger(cfg, opts.logToStdout)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, logFile: logFile, gateway: evm.NewRPCGateway()}

	if opts.dial {
		endpoints := make([]evm.ChainEndpoint, 0, len(cfg.Chains))
		for _, chain := range cfg.Chains {
			endpoints = append(endpoints, evm.ChainEndpoint{
				ChainID:    chain.ChainID,
				RPCURL:     chain.RPCURL,
				GatewayURL: chain.GatewayURL,
			})
		}
		if err := a.gateway.Dial(ctx, endpoints); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to chains: %w", err)
		}
	}

	if cfg.Signer.Enabled {
		key, err := evm.ParsePrivateKey(os.Getenv(cfg.Signer.KeyEnv))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("signer key from $%s: %w", cfg.Signer.KeyEnv, err)
		}
		a.signer = evm.NewEthSigner(key, a.gateway)
		if cfg.Signer.ConfirmEach {
			a.signer.SetApprover(approveOnTerminal)
		}
	}

	a.estimator = newEstimator(cfg, a.gateway, a.signer, logger)
	if opts.noLedger {
		return a, nil
	}

	a.db, err = store.NewBoltStore(cfg.LedgerPath())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	dcfg := controller.Config{
		Ledger:         store.NewLedgerStore(a.db, cfg.Dispatch.LedgerKey),
		Gateway:        a.gateway,
		Estimator:      a.estimator,
		Owner:          cfg.LeaseOwner(),
		LeaseTTL:       cfg.Dispatch.LeaseTTL,
		RepollInterval: cfg.Dispatch.RepollInterval,
		Registerer:     a.registry,
	}
	if a.signer != nil {
		dcfg.Signer = a.signer
	}
	a.dispatcher = controller.NewDispatcher(dcfg)
	a.dispatcher.SetLogger(logger)

	return a, nil
}

func newEstimator(cfg *config.Config, gateway *evm.RPCGateway, signer *evm.EthSigner, logger *slog.Logger) *estimator.Estimator {
	var es estimator.Signer
	if signer != nil {
		es = signer
	}
	var prices estimator.PriceService
	if cfg.Prices.Endpoint != "" {
		svc := price.NewHTTPService(price.Config{
			Endpoint:      cfg.Prices.Endpoint,
			RatePerSecond: cfg.Prices.RatePerSecond,
			CacheTTL:      cfg.Prices.CacheTTL,
			CacheSize:     cfg.Prices.CacheSize,
		})
		svc.SetLogger(logger)
		prices = svc
	}

	est := estimator.New(gateway, es, prices)
	est.SetLogger(logger)
	est.SetDecimals(func(chainID int64, asset common.Address) uint8 {
		if chain, ok := cfg.Chain(chainID); ok && types.IsNative(asset) {
			return uint8(chain.NativeDecimals)
		}
		return 18
	})
	return est
}

// approveOnTerminal asks before every external-signer signature.
func approveOnTerminal(_ context.Context, chainID int64, call types.Call) (bool, error) {
	value := "0"
	if call.Value != nil {
		value = call.Value.ToInt().String()
	}
	return output.Confirm(fmt.Sprintf("Sign transaction to %s on chain %d (value %s)", call.To.Hex(), chainID, value))
}

// sender returns the account built actions are paid from.
func (a *app) sender(ctx context.Context, chainID int64) (common.Address, error) {
	if a.signer != nil {
		return a.signer.Address(), nil
	}
	return a.gateway.ComputeAccount(ctx, chainID)
}

// build turns blocks into estimated actions.
func (a *app) build(ctx context.Context, blocks []builder.Block) ([]*types.CrossChainAction, error) {
	if len(blocks) == 0 {
		return nil, controller.ErrNoActions
	}
	sender, err := a.sender(ctx, blocks[0].ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sender: %w", err)
	}

	b := builder.New(builder.DefaultRegistry(a.gateway))
	b.SetLogger(a.logger)
	actions, err := b.Build(ctx, blocks, builder.Options{
		Sender:             sender,
		UsesExternalSigner: a.signer != nil,
	})
	if err != nil {
		return nil, err
	}

	for _, action := range actions {
		if err := a.estimator.Apply(ctx, action); err != nil {
			a.logger.Warn("estimate failed", "action", action.ID, "error", err)
		}
	}
	return actions, nil
}

// Close releases every resource the app opened.
func (a *app) Close() {
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
