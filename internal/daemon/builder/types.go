// internal/daemon/builder/types.go
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// Block is one user-specified action block.
type Block struct {
	ID      string           `json:"id"`
	Type    types.ActionType `json:"type"`
	ChainID int64            `json:"chainId"`
	// Values holds the type-specific inputs.
	Values json.RawMessage `json:"values"`
	// MultiCall links the block into a multi-call chain.
	MultiCall *types.MultiCallData `json:"multiCall,omitempty"`
	// GasToken pays fees in an ERC20 instead of the native currency.
	GasToken *common.Address `json:"gasToken,omitempty"`
}

// Options are the per-build settings shared by every block.
type Options struct {
	// Sender is the paying account.
	Sender common.Address
	// UsesExternalSigner marks built actions for one-at-a-time submission.
	UsesExternalSigner bool
}

// Request is what a Strategy receives for one block.
type Request struct {
	Block  Block
	Sender common.Address
}

// Plan is a strategy's output for one block.
type Plan struct {
	Transactions []*types.Transaction
	Preview      types.Preview
}

// Strategy builds the transactions of one action type.
type Strategy interface {
	Type() types.ActionType
	Build(ctx context.Context, req Request) (*Plan, error)
}

// Quoter finds routes for swaps, bridges and stakes.
type Quoter interface {
	Quote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error)
}

// ErrInvalidChain is returned for malformed multi-call chains.
var ErrInvalidChain = errors.New("invalid multi-call chain")

// BuildError is returned when a block cannot be turned into transactions.
// No action of the build is kept.
type BuildError struct {
	BlockID string
	Type    types.ActionType
	Err     error
}

func (e *BuildError) Error() string {
	if e.BlockID == "" {
		return fmt.Sprintf("failed to build %s action: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("failed to build %s action %s: %v", e.Type, e.BlockID, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsBuildError returns true if err is a BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}
