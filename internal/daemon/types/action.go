// internal/daemon/types/action.go
package types

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MultiCallData links several builder blocks into one execution chain.
type MultiCallData struct {
	// ID identifies the chain all linked blocks share.
	ID string `json:"id"`
	// Chain is the chain id every link executes on.
	Chain int64 `json:"chain"`
	// LastCallID is the builder block this link extends, empty for the first link.
	LastCallID string `json:"lastCallId,omitempty"`
	// Index is the link position, starting at 0.
	Index int `json:"index"`
	// Token and Value seed the link from the prior link's output.
	Token *common.Address `json:"token,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	// Fixed freezes the link once a downstream link exists.
	Fixed bool `json:"fixed"`
}

// Estimate is the outcome of an affordability check.
type Estimate struct {
	FeeAsset common.Address `json:"feeAsset"`
	Cost     *hexutil.Big   `json:"cost,omitempty"`
	// FiatCost is the USD value of Cost, empty when no price was available.
	FiatCost string `json:"fiatCost,omitempty"`
	// Error is set instead of Cost when the action cannot be afforded or estimated.
	Error string `json:"error,omitempty"`
}

// CrossChainAction is one submittable unit of on-chain work tied to one chain.
type CrossChainAction struct {
	ID                    string
	RelatedBuilderBlockID string
	ChainID               int64
	Type                  ActionType
	Preview               Preview
	Transactions          []*Transaction
	IsEstimating          bool
	Estimated             *Estimate
	GasTokenOverride      *common.Address
	UsesExternalSigner    bool
	// BatchTransactions are same-chain sibling actions merged for one submission.
	BatchTransactions []*CrossChainAction
	BatchHash         string
	MultiCallData     *MultiCallData
}

// actionJSON is the persisted shape of a CrossChainAction.
type actionJSON struct {
	ID                    string              `json:"id"`
	RelatedBuilderBlockID string              `json:"relatedBuilderBlockId,omitempty"`
	ChainID               int64               `json:"chainId"`
	Type                  ActionType          `json:"type"`
	Preview               json.RawMessage     `json:"preview,omitempty"`
	Transactions          []*Transaction      `json:"transactions"`
	IsEstimating          bool                `json:"isEstimating,omitempty"`
	Estimated             *Estimate           `json:"estimated"`
	GasTokenOverride      *common.Address     `json:"gasTokenOverride,omitempty"`
	UsesExternalSigner    bool                `json:"usesExternalSigner,omitempty"`
	BatchTransactions     []*CrossChainAction `json:"batchTransactions,omitempty"`
	BatchHash             string              `json:"batchHash,omitempty"`
	MultiCallData         *MultiCallData      `json:"multiCallData"`
}

// MarshalJSON encodes the preview next to its type tag.
func (a *CrossChainAction) MarshalJSON() ([]byte, error) {
	var preview json.RawMessage
	if a.Preview != nil {
		raw, err := json.Marshal(a.Preview)
		if err != nil {
			return nil, err
		}
		preview = raw
	}
	return json.Marshal(actionJSON{
		ID:                    a.ID,
		RelatedBuilderBlockID: a.RelatedBuilderBlockID,
		ChainID:               a.ChainID,
		Type:                  a.Type,
		Preview:               preview,
		Transactions:          a.Transactions,
		IsEstimating:          a.IsEstimating,
		Estimated:             a.Estimated,
		GasTokenOverride:      a.GasTokenOverride,
		UsesExternalSigner:    a.UsesExternalSigner,
		BatchTransactions:     a.BatchTransactions,
		BatchHash:             a.BatchHash,
		MultiCallData:         a.MultiCallData,
	})
}

// UnmarshalJSON decodes the preview through the variant registry.
func (a *CrossChainAction) UnmarshalJSON(data []byte) error {
	var raw actionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	preview, err := decodePreview(raw.Type, raw.Preview)
	if err != nil {
		return err
	}
	*a = CrossChainAction{
		ID:                    raw.ID,
		RelatedBuilderBlockID: raw.RelatedBuilderBlockID,
		ChainID:               raw.ChainID,
		Type:                  raw.Type,
		Preview:               preview,
		Transactions:          raw.Transactions,
		IsEstimating:          raw.IsEstimating,
		Estimated:             raw.Estimated,
		GasTokenOverride:      raw.GasTokenOverride,
		UsesExternalSigner:    raw.UsesExternalSigner,
		BatchTransactions:     raw.BatchTransactions,
		BatchHash:             raw.BatchHash,
		MultiCallData:         raw.MultiCallData,
	}
	return nil
}

// AllTransactions returns the action's own transactions followed by those
// of every batch member, in member order.
func (a *CrossChainAction) AllTransactions() []*Transaction {
	all := make([]*Transaction, 0, len(a.Transactions))
	all = append(all, a.Transactions...)
	for _, member := range a.BatchTransactions {
		all = append(all, member.AllTransactions()...)
	}
	return all
}

// HasStatus returns true if any transaction (members included) has status s.
func (a *CrossChainAction) HasStatus(s TxStatus) bool {
	return a.FirstWithStatus(s) != nil
}

// FirstWithStatus returns the first transaction with status s, or nil.
func (a *CrossChainAction) FirstWithStatus(s TxStatus) *Transaction {
	for _, tx := range a.AllTransactions() {
		if tx.Status == s {
			return tx
		}
	}
	return nil
}

// IsTerminal returns true once every transaction reached a terminal status.
func (a *CrossChainAction) IsTerminal() bool {
	for _, tx := range a.AllTransactions() {
		if !tx.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Resolve stamps every transaction with status, a finish time and, when
// non-empty, hash. CONFIRMED transactions are left untouched.
// Returns the number of transactions that changed.
func (a *CrossChainAction) Resolve(status TxStatus, finishedAt time.Time, hash string) int {
	changed := 0
	for _, tx := range a.AllTransactions() {
		if !tx.Transition(status) {
			continue
		}
		ts := finishedAt
		tx.FinishTimestamp = &ts
		if hash != "" {
			tx.TransactionHash = hash
		}
		changed++
	}
	return changed
}

// Clone returns a deep copy. Previews are immutable after build and are shared.
func (a *CrossChainAction) Clone() *CrossChainAction {
	if a == nil {
		return nil
	}
	c := *a
	c.Transactions = make([]*Transaction, len(a.Transactions))
	for i, tx := range a.Transactions {
		c.Transactions[i] = tx.Clone()
	}
	if a.BatchTransactions != nil {
		c.BatchTransactions = make([]*CrossChainAction, len(a.BatchTransactions))
		for i, m := range a.BatchTransactions {
			c.BatchTransactions[i] = m.Clone()
		}
	}
	if a.Estimated != nil {
		e := *a.Estimated
		c.Estimated = &e
	}
	if a.MultiCallData != nil {
		m := *a.MultiCallData
		c.MultiCallData = &m
	}
	if a.GasTokenOverride != nil {
		g := *a.GasTokenOverride
		c.GasTokenOverride = &g
	}
	return &c
}
