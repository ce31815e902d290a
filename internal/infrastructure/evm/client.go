// Package evm provides the go-ethereum backed chain gateway and signer.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// Client is a per-chain JSON-RPC node client.
type Client struct {
	rpcURL  string
	client  *ethclient.Client
	chainID *big.Int
}

// NewClient creates a new EVM client. Call Connect before use.
func NewClient(rpcURL string) *Client {
	return &Client{
		rpcURL: rpcURL,
	}
}

// NewClientFromRPC wraps an already dialed rpc client.
func NewClientFromRPC(c *rpc.Client) *Client {
	return &Client{client: ethclient.NewClient(c)}
}

// Connect establishes a connection to the EVM RPC endpoint.
func (c *Client) Connect(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to EVM RPC: %w", err)
	}
	c.client = client

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		c.client = nil
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	c.chainID = chainID

	return nil
}

// ChainID returns the chain id learned on Connect, or nil.
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

func (c *Client) conn() (*ethclient.Client, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}
	return c.client, nil
}

// BalanceOf returns owner's balance of token; the zero address means the
// native currency.
func (c *Client) BalanceOf(ctx context.Context, owner, token common.Address) (*big.Int, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}

	if types.IsNative(token) {
		balance, err := client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return balance, nil
	}

	data, err := PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf on %s: %w", token.Hex(), err)
	}
	return UnpackBalance(res)
}

// PendingNonce retrieves the pending nonce for an address.
func (c *Client) PendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	client, err := c.conn()
	if err != nil {
		return 0, err
	}
	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return nonce, nil
}

// SuggestGasPrice returns a suggested gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	return gasPrice, nil
}

// EstimateGas estimates gas for call sent from from.
func (c *Client) EstimateGas(ctx context.Context, from common.Address, call types.Call) (uint64, error) {
	client, err := c.conn()
	if err != nil {
		return 0, err
	}

	to := call.To
	msg := ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: call.Data,
	}
	if call.Value != nil {
		msg.Value = call.Value.ToInt()
	}

	gas, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return gas, nil
}

// SendTransaction broadcasts a signed transaction and returns its hash.
func (c *Client) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) (string, error) {
	client, err := c.conn()
	if err != nil {
		return "", err
	}
	if err := client.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// TransactionStatus reports whether hash is mined and whether it succeeded.
func (c *Client) TransactionStatus(ctx context.Context, hash string) (types.ChainTxStatus, error) {
	client, err := c.conn()
	if err != nil {
		return "", err
	}
	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(hash))
	return receiptStatus(receipt, err)
}

// receiptStatus maps a receipt lookup to a chain outcome. A missing
// receipt means the transaction is still pending.
func receiptStatus(receipt *gethtypes.Receipt, err error) (types.ChainTxStatus, error) {
	if errors.Is(err, ethereum.NotFound) {
		return types.ChainTxPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get receipt: %w", err)
	}
	if receipt == nil {
		return types.ChainTxPending, nil
	}
	if receipt.Status == gethtypes.ReceiptStatusSuccessful {
		return types.ChainTxSuccess, nil
	}
	return types.ChainTxReverted, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	return nil
}
