package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// ErrUserRejected is returned when the signer's owner declines a transaction.
var ErrUserRejected = errors.New("transaction rejected by user")

// ApproveFunc asks the key owner to approve one call before it is signed.
type ApproveFunc func(ctx context.Context, chainID int64, call types.Call) (bool, error)

// NodeSource resolves the node client of a chain.
type NodeSource interface {
	Node(chainID int64) (*Client, error)
}

// EthSigner is an external signer backed by a local private key. Every
// transaction is signed and sent on its own.
type EthSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	nodes   NodeSource

	// mu serializes nonce lookup and send.
	mu      sync.Mutex
	approve ApproveFunc
}

// ParsePrivateKey parses a hex private key with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// NewEthSigner creates a signer for key sending through nodes.
func NewEthSigner(key *ecdsa.PrivateKey, nodes NodeSource) *EthSigner {
	return &EthSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		nodes:   nodes,
	}
}

// SetApprover installs a per-transaction approval hook.
func (s *EthSigner) SetApprover(fn ApproveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approve = fn
}

// Address returns the paying address.
func (s *EthSigner) Address() common.Address {
	return s.address
}

// EstimateGas returns the gas limit for call.
func (s *EthSigner) EstimateGas(ctx context.Context, chainID int64, call types.Call) (uint64, error) {
	node, err := s.nodes.Node(chainID)
	if err != nil {
		return 0, err
	}
	return node.EstimateGas(ctx, s.address, call)
}

// SuggestGasPrice returns the chain's current gas price.
func (s *EthSigner) SuggestGasPrice(ctx context.Context, chainID int64) (*big.Int, error) {
	node, err := s.nodes.Node(chainID)
	if err != nil {
		return nil, err
	}
	return node.SuggestGasPrice(ctx)
}

// Submit signs and sends call, returning the transaction hash.
func (s *EthSigner) Submit(ctx context.Context, chainID int64, call types.Call) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.approve != nil {
		ok, err := s.approve(ctx, chainID, call)
		if err != nil {
			return "", fmt.Errorf("approval failed: %w", err)
		}
		if !ok {
			return "", ErrUserRejected
		}
	}

	node, err := s.nodes.Node(chainID)
	if err != nil {
		return "", err
	}

	nonce, err := node.PendingNonce(ctx, s.address)
	if err != nil {
		return "", err
	}
	gasPrice, err := node.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}
	gas, err := node.EstimateGas(ctx, s.address, call)
	if err != nil {
		return "", err
	}

	signed, err := s.sign(chainID, nonce, gasPrice, gas, call)
	if err != nil {
		return "", err
	}
	return node.SendTransaction(ctx, signed)
}

func (s *EthSigner) sign(chainID int64, nonce uint64, gasPrice *big.Int, gas uint64, call types.Call) (*gethtypes.Transaction, error) {
	value := new(big.Int)
	if call.Value != nil {
		value = call.Value.ToInt()
	}
	to := call.To
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     call.Data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(big.NewInt(chainID)), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
