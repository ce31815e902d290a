// internal/daemon/builder/builder.go
package builder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// Builder turns action blocks into CrossChainActions.
type Builder struct {
	registry *Registry
	logger   *slog.Logger
	newID    func() string
}

// New creates a builder using registry's strategies.
func New(registry *Registry) *Builder {
	return &Builder{
		registry: registry,
		logger:   slog.Default(),
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// SetLogger sets the logger for the builder.
func (b *Builder) SetLogger(logger *slog.Logger) {
	b.logger = logger
}

// Build builds every block in order. Blocks of one multi-call chain are
// joined into the chain's first action. Non-chained swaps and sends on a
// chain that already has an action of the same type are merged into it.
// Any failure aborts the whole build.
func (b *Builder) Build(ctx context.Context, blocks []Block, opts Options) ([]*types.CrossChainAction, error) {
	if len(blocks) == 0 {
		return nil, &BuildError{Err: fmt.Errorf("no blocks to build")}
	}
	if err := validateChains(blocks); err != nil {
		return nil, err
	}

	var result []*types.CrossChainAction
	chainHeads := make(map[string]*types.CrossChainAction)

	for _, block := range blocks {
		action, err := b.buildOne(ctx, block, opts)
		if err != nil {
			b.logger.Error("build failed", "block", block.ID, "type", block.Type, "error", err)
			return nil, err
		}

		if md := block.MultiCall; md != nil {
			if head, ok := chainHeads[md.ID]; ok {
				head.BatchTransactions = append(head.BatchTransactions, action)
				continue
			}
			chainHeads[md.ID] = action
		} else if action.Type.Combinable() {
			if target := mergeTarget(result, action); target != nil {
				target.BatchTransactions = append(target.BatchTransactions, action)
				continue
			}
		}
		result = append(result, action)
	}

	b.logger.Debug("built actions", "blocks", len(blocks), "actions", len(result))
	return result, nil
}

func (b *Builder) buildOne(ctx context.Context, block Block, opts Options) (*types.CrossChainAction, error) {
	strategy, ok := b.registry.Get(block.Type)
	if !ok {
		return nil, &BuildError{BlockID: block.ID, Type: block.Type, Err: fmt.Errorf("unsupported action type")}
	}
	if block.ChainID <= 0 {
		return nil, &BuildError{BlockID: block.ID, Type: block.Type, Err: fmt.Errorf("chain id is required")}
	}

	plan, err := strategy.Build(ctx, Request{Block: block, Sender: opts.Sender})
	if err != nil {
		return nil, &BuildError{BlockID: block.ID, Type: block.Type, Err: err}
	}
	if len(plan.Transactions) == 0 {
		return nil, &BuildError{BlockID: block.ID, Type: block.Type, Err: fmt.Errorf("strategy produced no transactions")}
	}

	action := &types.CrossChainAction{
		ID:                    b.newID(),
		RelatedBuilderBlockID: block.ID,
		ChainID:               block.ChainID,
		Type:                  block.Type,
		Preview:               plan.Preview,
		Transactions:          plan.Transactions,
		GasTokenOverride:      block.GasToken,
		UsesExternalSigner:    opts.UsesExternalSigner,
	}
	if block.MultiCall != nil {
		md := *block.MultiCall
		action.MultiCallData = &md
	}
	return action, nil
}

// mergeTarget finds an earlier non-chained action the same-chain merge
// rule folds action into.
func mergeTarget(result []*types.CrossChainAction, action *types.CrossChainAction) *types.CrossChainAction {
	for _, existing := range result {
		if existing.MultiCallData != nil {
			continue
		}
		if existing.ChainID != action.ChainID || existing.Type != action.Type {
			continue
		}
		if !sameGasToken(existing, action) {
			continue
		}
		return existing
	}
	return nil
}

func sameGasToken(a, b *types.CrossChainAction) bool {
	if a.GasTokenOverride == nil || b.GasTokenOverride == nil {
		return a.GasTokenOverride == b.GasTokenOverride
	}
	return *a.GasTokenOverride == *b.GasTokenOverride
}

// validateChains checks that every multi-call chain stays on one chain id,
// has strictly increasing indexes and links each block to its predecessor.
func validateChains(blocks []Block) error {
	type tail struct {
		blockID string
		chainID int64
		index   int
	}
	tails := make(map[string]tail)

	for _, block := range blocks {
		md := block.MultiCall
		if md == nil {
			continue
		}
		fail := func(format string, args ...any) error {
			return &BuildError{
				BlockID: block.ID,
				Type:    block.Type,
				Err:     fmt.Errorf("%w: "+format, append([]any{ErrInvalidChain}, args...)...),
			}
		}

		if md.ID == "" {
			return fail("missing chain id")
		}
		if md.Chain != 0 && md.Chain != block.ChainID {
			return fail("block targets chain %d but its link is on chain %d", block.ChainID, md.Chain)
		}

		prev, seen := tails[md.ID]
		if seen {
			if block.ChainID != prev.chainID {
				return fail("chain %s spans chains %d and %d", md.ID, prev.chainID, block.ChainID)
			}
			if md.Index <= prev.index {
				return fail("index %d does not follow %d", md.Index, prev.index)
			}
			if md.LastCallID != "" && md.LastCallID != prev.blockID {
				return fail("extends %s but the tail is %s", md.LastCallID, prev.blockID)
			}
		}
		tails[md.ID] = tail{blockID: block.ID, chainID: block.ChainID, index: md.Index}
	}
	return nil
}
