// internal/daemon/builder/strategy.go
package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
	"github.com/altuslabsxyz/xchain-dispatch/internal/infrastructure/evm"
)

// SendStrategy transfers the native currency or an ERC20.
type SendStrategy struct{}

type sendValues struct {
	Receiver common.Address    `json:"receiver"`
	Asset    types.AssetAmount `json:"asset"`
}

func (s *SendStrategy) Type() types.ActionType { return types.ActionSend }

func (s *SendStrategy) Build(ctx context.Context, req Request) (*Plan, error) {
	var v sendValues
	if err := decodeValues(req.Block, &v); err != nil {
		return nil, err
	}
	applySeed(&v.Asset, req.Block.MultiCall)
	if v.Receiver == (common.Address{}) {
		return nil, fmt.Errorf("receiver is required")
	}
	if err := validAmount(v.Asset); err != nil {
		return nil, err
	}

	chainID := req.Block.ChainID
	var tx *types.Transaction
	if types.IsNative(v.Asset.Asset) {
		tx = types.NewTransaction(chainID, v.Receiver, copyBig(v.Asset.Amount), nil)
	} else {
		data, err := evm.PackTransfer(v.Receiver, v.Asset.Amount.ToInt())
		if err != nil {
			return nil, fmt.Errorf("encode transfer: %w", err)
		}
		tx = types.NewTransaction(chainID, v.Asset.Asset, nil, data)
	}

	return &Plan{
		Transactions: []*types.Transaction{tx},
		Preview:      &types.SendPreview{Receiver: v.Receiver, Asset: v.Asset},
	}, nil
}

// SwapStrategy swaps one asset for another on the same chain.
type SwapStrategy struct {
	Quoter Quoter
}

type swapValues struct {
	Provider string            `json:"provider,omitempty"`
	From     types.AssetAmount `json:"from"`
	To       types.AssetAmount `json:"to"`
}

func (s *SwapStrategy) Type() types.ActionType { return types.ActionSwap }

func (s *SwapStrategy) Build(ctx context.Context, req Request) (*Plan, error) {
	var v swapValues
	if err := decodeValues(req.Block, &v); err != nil {
		return nil, err
	}
	applySeed(&v.From, req.Block.MultiCall)
	if err := validAmount(v.From); err != nil {
		return nil, err
	}
	if v.From.Asset == v.To.Asset {
		return nil, fmt.Errorf("cannot swap %s for itself", v.From.Asset.Hex())
	}

	quote, txs, err := routed(ctx, s.Quoter, req, types.QuoteRequest{
		Type:     types.ActionSwap,
		ChainID:  req.Block.ChainID,
		Provider: v.Provider,
		Sender:   req.Sender,
		Receiver: req.Sender,
		From:     v.From,
		ToAsset:  v.To.Asset,
	})
	if err != nil {
		return nil, err
	}

	to := quote.Receive
	if to.Symbol == "" {
		to.Symbol = v.To.Symbol
	}
	return &Plan{
		Transactions: txs,
		Preview:      &types.SwapPreview{Provider: quote.Provider, From: v.From, To: to},
	}, nil
}

// BridgeStrategy moves an asset to another chain.
type BridgeStrategy struct {
	Quoter Quoter
}

type bridgeValues struct {
	Provider  string            `json:"provider,omitempty"`
	ToChainID int64             `json:"toChainId"`
	Receiver  common.Address    `json:"receiver,omitempty"`
	From      types.AssetAmount `json:"from"`
	To        types.AssetAmount `json:"to"`
}

func (s *BridgeStrategy) Type() types.ActionType { return types.ActionBridge }

func (s *BridgeStrategy) Build(ctx context.Context, req Request) (*Plan, error) {
	var v bridgeValues
	if err := decodeValues(req.Block, &v); err != nil {
		return nil, err
	}
	applySeed(&v.From, req.Block.MultiCall)
	if err := validAmount(v.From); err != nil {
		return nil, err
	}
	if v.ToChainID == 0 || v.ToChainID == req.Block.ChainID {
		return nil, fmt.Errorf("destination chain must differ from source chain %d", req.Block.ChainID)
	}
	receiver := v.Receiver
	if receiver == (common.Address{}) {
		receiver = req.Sender
	}

	quote, txs, err := routed(ctx, s.Quoter, req, types.QuoteRequest{
		Type:      types.ActionBridge,
		ChainID:   req.Block.ChainID,
		ToChainID: v.ToChainID,
		Provider:  v.Provider,
		Sender:    req.Sender,
		Receiver:  receiver,
		From:      v.From,
		ToAsset:   v.To.Asset,
	})
	if err != nil {
		return nil, err
	}

	return &Plan{
		Transactions: txs,
		Preview: &types.BridgePreview{
			Provider:    quote.Provider,
			FromChainID: req.Block.ChainID,
			ToChainID:   v.ToChainID,
			Receiver:    receiver,
			From:        v.From,
			To:          quote.Receive,
		},
	}, nil
}

// StakeStrategy deposits an asset into a staking protocol.
type StakeStrategy struct {
	Quoter Quoter
}

type stakeValues struct {
	Protocol string            `json:"protocol"`
	Asset    types.AssetAmount `json:"asset"`
}

func (s *StakeStrategy) Type() types.ActionType { return types.ActionStake }

func (s *StakeStrategy) Build(ctx context.Context, req Request) (*Plan, error) {
	var v stakeValues
	if err := decodeValues(req.Block, &v); err != nil {
		return nil, err
	}
	applySeed(&v.Asset, req.Block.MultiCall)
	if v.Protocol == "" {
		return nil, fmt.Errorf("protocol is required")
	}
	if err := validAmount(v.Asset); err != nil {
		return nil, err
	}

	quote, txs, err := routed(ctx, s.Quoter, req, types.QuoteRequest{
		Type:     types.ActionStake,
		ChainID:  req.Block.ChainID,
		Provider: v.Protocol,
		Sender:   req.Sender,
		Receiver: req.Sender,
		From:     v.Asset,
	})
	if err != nil {
		return nil, err
	}

	preview := &types.StakePreview{Protocol: v.Protocol, Asset: v.Asset}
	if quote.Receive.Amount != nil {
		receive := quote.Receive
		preview.Receive = &receive
	}
	return &Plan{Transactions: txs, Preview: preview}, nil
}

// routed quotes req and turns the quote into transactions, prepending an
// approval of the source asset when the route needs one.
func routed(ctx context.Context, quoter Quoter, req Request, qr types.QuoteRequest) (*types.Quote, []*types.Transaction, error) {
	if quoter == nil {
		return nil, nil, fmt.Errorf("no route provider configured")
	}
	quote, err := quoter.Quote(ctx, qr)
	if err != nil {
		return nil, nil, err
	}
	if quote == nil || len(quote.Calls) == 0 {
		return nil, nil, fmt.Errorf("no route found")
	}

	txs := make([]*types.Transaction, 0, len(quote.Calls)+1)
	for _, call := range quote.Calls {
		txs = append(txs, types.NewTransaction(req.Block.ChainID, call.To, copyBig(call.Value), call.Data))
	}

	txs, err = PrependApproval(req.Block.ChainID, qr.From.Asset, quote.Spender, qr.From.Amount.ToInt(), txs)
	if err != nil {
		return nil, nil, err
	}
	return quote, txs, nil
}

func decodeValues(block Block, v any) error {
	if len(block.Values) == 0 {
		return fmt.Errorf("missing values")
	}
	dec := json.NewDecoder(bytes.NewReader(block.Values))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid values: %w", err)
	}
	return nil
}

func validAmount(a types.AssetAmount) error {
	if a.Amount == nil || a.Amount.ToInt().Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// applySeed replaces the source amount of a chained block with the value
// carried over from the previous link.
func applySeed(a *types.AssetAmount, md *types.MultiCallData) {
	if md == nil || md.Index == 0 || md.Token == nil || md.Value == nil || *md.Token != a.Asset {
		return
	}
	a.Amount = copyBig(md.Value)
}

func copyBig(v *hexutil.Big) *hexutil.Big {
	if v == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set(v.ToInt()))
}
