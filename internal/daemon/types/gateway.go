// internal/daemon/types/gateway.go
package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BatchState is the gateway-reported state of a submitted batch.
type BatchState string

// Batch states reported by the gateway.
const (
	BatchStatePending   BatchState = "pending"
	BatchStateSent      BatchState = "sent"
	BatchStateCanceling BatchState = "canceling"
	BatchStateCanceled  BatchState = "canceled"
	BatchStateReverted  BatchState = "reverted"
)

// Resolve maps a batch state to the transaction status it settles on.
// The second result is false while the batch is still in flight.
func (s BatchState) Resolve() (TxStatus, bool) {
	switch s {
	case BatchStateSent:
		return TxStatusConfirmed, true
	case BatchStateCanceling, BatchStateCanceled, BatchStateReverted:
		return TxStatusFailed, true
	default:
		return "", false
	}
}

// Batch is a gateway batch as returned by getBatch.
type Batch struct {
	Hash  string     `json:"hash"`
	State BatchState `json:"state"`
	// TransactionHash is the on-chain hash once the batch was sent.
	TransactionHash string `json:"transactionHash,omitempty"`
}

// BatchUpdate is one notification from the batch-update stream.
type BatchUpdate struct {
	Hash  string     `json:"hash"`
	State BatchState `json:"state"`
}

// BatchEstimate is the gateway's fee quote for a provisional batch.
type BatchEstimate struct {
	GasPrice  *hexutil.Big `json:"gasPrice"`
	GasLimit  *hexutil.Big `json:"gasLimit"`
	FeeAmount *hexutil.Big `json:"feeAmount,omitempty"`
}

// ChainTxStatus is the on-chain outcome of a single transaction.
type ChainTxStatus string

// Chain transaction outcomes.
const (
	ChainTxPending  ChainTxStatus = "pending"
	ChainTxSuccess  ChainTxStatus = "success"
	ChainTxReverted ChainTxStatus = "reverted"
)

// Resolve maps a chain outcome to a transaction status. The second result
// is false while the transaction is not yet mined.
func (s ChainTxStatus) Resolve() (TxStatus, bool) {
	switch s {
	case ChainTxSuccess:
		return TxStatusConfirmed, true
	case ChainTxReverted:
		return TxStatusFailed, true
	default:
		return "", false
	}
}

// QuoteRequest asks a route provider for the calls of a swap, bridge or
// stake.
type QuoteRequest struct {
	Type      ActionType     `json:"type"`
	ChainID   int64          `json:"chainId"`
	ToChainID int64          `json:"toChainId,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Sender    common.Address `json:"sender"`
	Receiver  common.Address `json:"receiver"`
	From      AssetAmount    `json:"from"`
	ToAsset   common.Address `json:"toAsset"`
}

// Quote is a provider's answer to a QuoteRequest.
type Quote struct {
	Provider string `json:"provider"`
	// Spender must be approved for From when From is not native. The zero
	// address means no approval is needed.
	Spender common.Address `json:"spender"`
	Calls   []Call         `json:"calls"`
	Receive AssetAmount    `json:"receive"`
}
