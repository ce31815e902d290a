// internal/daemon/builder/planner.go
package builder

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

type link struct {
	blockID string
	data    *types.MultiCallData
	receive *types.AssetAmount
	sent    *types.AssetAmount
}

// ChainPlanner tracks multi-call chains while blocks are being edited.
// Only the tail of a chain can be extended; extending freezes the old tail.
type ChainPlanner struct {
	mu     sync.Mutex
	chains map[string][]*link
	newID  func() string
}

// NewChainPlanner creates an empty planner.
func NewChainPlanner() *ChainPlanner {
	return &ChainPlanner{
		chains: make(map[string][]*link),
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Start opens a new chain on chainID with blockID as its first link.
func (p *ChainPlanner) Start(chainID int64, blockID string) *types.MultiCallData {
	p.mu.Lock()
	defer p.mu.Unlock()

	md := &types.MultiCallData{ID: p.newID(), Chain: chainID}
	p.chains[md.ID] = []*link{{blockID: blockID, data: md}}
	return copyLink(md)
}

// Record stores what a link's block spends and yields once it is built.
// Fixed links cannot be re-edited.
func (p *ChainPlanner) Record(id, blockID string, preview types.Preview) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, err := p.find(id, blockID)
	if err != nil {
		return err
	}
	if l.data.Fixed {
		return fmt.Errorf("%w: block %s is fixed", ErrInvalidChain, blockID)
	}
	l.receive = preview.Incoming()
	l.sent = nil
	if preview.ActionType() == types.ActionSend {
		l.sent = preview.Outgoing()
	}
	return nil
}

// Extend appends blockID after lastCallID, which must be the chain's
// unfixed tail. The tail becomes fixed and the new link is seeded with
// the value carried over.
func (p *ChainPlanner) Extend(id, lastCallID, blockID string) (*types.MultiCallData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	chain, ok := p.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s not found", ErrInvalidChain, id)
	}
	tail := chain[len(chain)-1]
	if tail.blockID != lastCallID {
		return nil, fmt.Errorf("%w: block %s is not the tail of chain %s", ErrInvalidChain, lastCallID, id)
	}
	if tail.data.Fixed {
		return nil, fmt.Errorf("%w: tail %s is fixed", ErrInvalidChain, lastCallID)
	}

	seed, err := seedOf(chain)
	if err != nil {
		return nil, err
	}

	tail.data.Fixed = true
	token := seed.Asset
	md := &types.MultiCallData{
		ID:         id,
		Chain:      tail.data.Chain,
		LastCallID: lastCallID,
		Index:      tail.data.Index + 1,
		Token:      &token,
		Value:      seed.Amount,
	}
	p.chains[id] = append(chain, &link{blockID: blockID, data: md})
	return copyLink(md), nil
}

// SeedValue returns what the next link of chain id would start with.
func (p *ChainPlanner) SeedValue(id string) (*types.AssetAmount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	chain, ok := p.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s not found", ErrInvalidChain, id)
	}
	return seedOf(chain)
}

// RemoveTail drops the last link; the new tail becomes editable again.
func (p *ChainPlanner) RemoveTail(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	chain, ok := p.chains[id]
	if !ok {
		return fmt.Errorf("%w: chain %s not found", ErrInvalidChain, id)
	}
	chain = chain[:len(chain)-1]
	if len(chain) == 0 {
		delete(p.chains, id)
		return nil
	}
	chain[len(chain)-1].data.Fixed = false
	p.chains[id] = chain
	return nil
}

// Links returns copies of the chain's links in order.
func (p *ChainPlanner) Links(id string) []*types.MultiCallData {
	p.mu.Lock()
	defer p.mu.Unlock()

	chain := p.chains[id]
	out := make([]*types.MultiCallData, len(chain))
	for i, l := range chain {
		out[i] = copyLink(l.data)
	}
	return out
}

func (p *ChainPlanner) find(id, blockID string) (*link, error) {
	for _, l := range p.chains[id] {
		if l.blockID == blockID {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: block %s is not in chain %s", ErrInvalidChain, blockID, id)
}

// seedOf is the latest received amount minus every send of the same asset
// in the chain.
func seedOf(chain []*link) (*types.AssetAmount, error) {
	var base *types.AssetAmount
	for i := len(chain) - 1; i >= 0; i-- {
		if r := chain[i].receive; r != nil && r.Amount != nil {
			base = r
			break
		}
	}
	if base == nil {
		return nil, fmt.Errorf("%w: nothing received to carry over", ErrInvalidChain)
	}

	remaining := new(big.Int).Set(base.Amount.ToInt())
	for _, l := range chain {
		if l.sent != nil && l.sent.Amount != nil && l.sent.Asset == base.Asset {
			remaining.Sub(remaining, l.sent.Amount.ToInt())
		}
	}
	if remaining.Sign() < 0 {
		return nil, fmt.Errorf("%w: sends exceed the %s received", ErrInvalidChain, base.Amount.ToInt())
	}

	seed := *base
	seed.Amount = (*hexutil.Big)(remaining)
	return &seed, nil
}

func copyLink(md *types.MultiCallData) *types.MultiCallData {
	c := *md
	if md.Token != nil {
		t := *md.Token
		c.Token = &t
	}
	c.Value = copyBig(md.Value)
	return &c
}
