// internal/daemon/types/transaction.go
package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxStatus is the lifecycle status of a single transaction.
type TxStatus string

// Transaction status constants.
const (
	TxStatusUnsent         TxStatus = "UNSENT"
	TxStatusPending        TxStatus = "PENDING"
	TxStatusConfirmed      TxStatus = "CONFIRMED"
	TxStatusFailed         TxStatus = "FAILED"
	TxStatusRejectedByUser TxStatus = "REJECTED_BY_USER"
)

// IsTerminal returns true for statuses that end a transaction's lifecycle.
func (s TxStatus) IsTerminal() bool {
	switch s {
	case TxStatusConfirmed, TxStatusFailed, TxStatusRejectedByUser:
		return true
	default:
		return false
	}
}

// rank orders statuses so transitions can only move forward.
func (s TxStatus) rank() int {
	switch s {
	case TxStatusUnsent, "":
		return 0
	case TxStatusPending:
		return 1
	default:
		return 2
	}
}

// Transaction is an atomic payload sent to a chain.
type Transaction struct {
	To      common.Address `json:"to"`
	Value   *hexutil.Big   `json:"value,omitempty"`
	Data    hexutil.Bytes  `json:"data,omitempty"`
	ChainID int64          `json:"chainId"`
	Status  TxStatus       `json:"status"`

	CreateTimestamp time.Time  `json:"createTimestamp"`
	SubmitTimestamp *time.Time `json:"submitTimestamp,omitempty"`
	FinishTimestamp *time.Time `json:"finishTimestamp,omitempty"`

	TransactionHash string `json:"transactionHash,omitempty"`
}

// NewTransaction returns an UNSENT transaction stamped with the current time.
func NewTransaction(chainID int64, to common.Address, value *hexutil.Big, data []byte) *Transaction {
	return &Transaction{
		To:              to,
		Value:           value,
		Data:            data,
		ChainID:         chainID,
		Status:          TxStatusUnsent,
		CreateTimestamp: time.Now(),
	}
}

// Transition moves the transaction to next if allowed. A status never
// moves back to a lower rank and terminal statuses are absorbing, except
// that a FAILED transaction the chain later reports as mined may still
// become CONFIRMED. Returns true if the status changed.
func (t *Transaction) Transition(next TxStatus) bool {
	if t.Status == next {
		return false
	}
	if t.Status.IsTerminal() {
		if t.Status != TxStatusFailed || next != TxStatusConfirmed {
			return false
		}
	}
	if next.rank() < t.Status.rank() {
		return false
	}
	t.Status = next
	return true
}

// Call is the stripped {to, value, data} form handed to submitters.
type Call struct {
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value,omitempty"`
	Data  hexutil.Bytes  `json:"data,omitempty"`
}

// Call strips the transaction down to what a submitter needs.
func (t *Transaction) Call() Call {
	return Call{To: t.To, Value: t.Value, Data: t.Data}
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.Value != nil {
		c.Value = (*hexutil.Big)(new(big.Int).Set(t.Value.ToInt()))
	}
	if t.Data != nil {
		c.Data = append(hexutil.Bytes(nil), t.Data...)
	}
	if t.SubmitTimestamp != nil {
		ts := *t.SubmitTimestamp
		c.SubmitTimestamp = &ts
	}
	if t.FinishTimestamp != nil {
		ts := *t.FinishTimestamp
		c.FinishTimestamp = &ts
	}
	return &c
}
