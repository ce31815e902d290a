// internal/daemon/types/preview.go
package types

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ActionType tags the variant of a CrossChainAction.
type ActionType string

// Built-in action types.
const (
	ActionBridge ActionType = "bridge"
	ActionSend   ActionType = "send"
	ActionSwap   ActionType = "swap"
	ActionStake  ActionType = "stake"
)

// Combinable reports whether same-chain actions of this type may be merged
// into one submission.
func (t ActionType) Combinable() bool {
	return t == ActionSwap || t == ActionSend
}

// NativeAsset is the address used for a chain's native currency.
var NativeAsset = common.Address{}

// IsNative returns true if asset is the native currency.
func IsNative(asset common.Address) bool {
	return asset == NativeAsset
}

// AssetAmount is an amount of one asset in its smallest unit.
type AssetAmount struct {
	Asset    common.Address `json:"asset"`
	Symbol   string         `json:"symbol,omitempty"`
	Decimals uint8          `json:"decimals"`
	Amount   *hexutil.Big   `json:"amount"`
}

// Preview is the variant-specific display payload of an action.
type Preview interface {
	ActionType() ActionType
	// Outgoing is what the paying account spends, nil if nothing.
	Outgoing() *AssetAmount
	// Incoming is what the action yields on its chain, nil if nothing.
	Incoming() *AssetAmount
}

// SendPreview describes a transfer.
type SendPreview struct {
	Receiver common.Address `json:"receiver"`
	Asset    AssetAmount    `json:"asset"`
}

func (p *SendPreview) ActionType() ActionType { return ActionSend }
func (p *SendPreview) Outgoing() *AssetAmount { return &p.Asset }
func (p *SendPreview) Incoming() *AssetAmount { return nil }

// SwapPreview describes a same-chain swap.
type SwapPreview struct {
	Provider string      `json:"provider"`
	From     AssetAmount `json:"from"`
	To       AssetAmount `json:"to"`
}

func (p *SwapPreview) ActionType() ActionType { return ActionSwap }
func (p *SwapPreview) Outgoing() *AssetAmount { return &p.From }
func (p *SwapPreview) Incoming() *AssetAmount { return &p.To }

// BridgePreview describes a transfer between chains.
type BridgePreview struct {
	Provider    string         `json:"provider"`
	FromChainID int64          `json:"fromChainId"`
	ToChainID   int64          `json:"toChainId"`
	Receiver    common.Address `json:"receiver"`
	From        AssetAmount    `json:"from"`
	To          AssetAmount    `json:"to"`
}

func (p *BridgePreview) ActionType() ActionType { return ActionBridge }
func (p *BridgePreview) Outgoing() *AssetAmount { return &p.From }

// Incoming is nil: the bridged asset lands on another chain.
func (p *BridgePreview) Incoming() *AssetAmount { return nil }

// StakePreview describes staking into a protocol.
type StakePreview struct {
	Protocol string       `json:"protocol"`
	Asset    AssetAmount  `json:"asset"`
	Receive  *AssetAmount `json:"receive,omitempty"`
}

func (p *StakePreview) ActionType() ActionType { return ActionStake }
func (p *StakePreview) Outgoing() *AssetAmount { return &p.Asset }
func (p *StakePreview) Incoming() *AssetAmount { return p.Receive }

var (
	previewMu        sync.RWMutex
	previewFactories = map[ActionType]func() Preview{
		ActionSend:   func() Preview { return &SendPreview{} },
		ActionSwap:   func() Preview { return &SwapPreview{} },
		ActionBridge: func() Preview { return &BridgePreview{} },
		ActionStake:  func() Preview { return &StakePreview{} },
	}
)

// RegisterPreview adds a preview variant so persisted actions of that
// type can be decoded.
func RegisterPreview(t ActionType, factory func() Preview) error {
	previewMu.Lock()
	defer previewMu.Unlock()

	if _, exists := previewFactories[t]; exists {
		return fmt.Errorf("preview type %q already registered", t)
	}
	previewFactories[t] = factory
	return nil
}

// decodePreview decodes raw into the variant registered for t.
func decodePreview(t ActionType, raw json.RawMessage) (Preview, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	previewMu.RLock()
	factory, ok := previewFactories[t]
	previewMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", t)
	}

	p := factory()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("invalid %s preview: %w", t, err)
	}
	return p, nil
}
