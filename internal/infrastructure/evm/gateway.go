package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// gatewayNamespace is the JSON-RPC namespace served by the batch gateway.
const gatewayNamespace = "gateway"

// ChainEndpoint describes how to reach one chain.
type ChainEndpoint struct {
	ChainID    int64
	RPCURL     string
	GatewayURL string
}

type chainConn struct {
	gateway *rpc.Client
	node    *Client
}

// RPCGateway is the managed-wallet batch gateway. Batch calls go to the
// chain's gateway endpoint; balances and receipts are read from its node.
type RPCGateway struct {
	mu     sync.RWMutex
	chains map[int64]*chainConn
}

// NewRPCGateway creates a gateway with no chains attached.
func NewRPCGateway() *RPCGateway {
	return &RPCGateway{chains: make(map[int64]*chainConn)}
}

// Dial connects to every endpoint and attaches it.
func (g *RPCGateway) Dial(ctx context.Context, endpoints []ChainEndpoint) error {
	for _, ep := range endpoints {
		node := NewClient(ep.RPCURL)
		if err := node.Connect(ctx); err != nil {
			return fmt.Errorf("chain %d: %w", ep.ChainID, err)
		}
		if id := node.ChainID(); id != nil && id.Int64() != ep.ChainID {
			node.Close()
			return fmt.Errorf("chain %d: node at %s reports chain id %s", ep.ChainID, ep.RPCURL, id)
		}

		var gw *rpc.Client
		if ep.GatewayURL != "" {
			c, err := rpc.DialContext(ctx, ep.GatewayURL)
			if err != nil {
				node.Close()
				return fmt.Errorf("chain %d: failed to connect to gateway: %w", ep.ChainID, err)
			}
			gw = c
		}
		g.Attach(ep.ChainID, gw, node)
	}
	return nil
}

// Attach registers connections for chainID. gateway may be nil for chains
// only used through the external signer.
func (g *RPCGateway) Attach(chainID int64, gateway *rpc.Client, node *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chains[chainID] = &chainConn{gateway: gateway, node: node}
}

// Node returns the node client of chainID.
func (g *RPCGateway) Node(chainID int64) (*Client, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.chains[chainID]
	if !ok || c.node == nil {
		return nil, fmt.Errorf("chain %d is not configured", chainID)
	}
	return c.node, nil
}

func (g *RPCGateway) gatewayFor(chainID int64) (*rpc.Client, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.chains[chainID]
	if !ok || c.gateway == nil {
		return nil, fmt.Errorf("chain %d has no gateway", chainID)
	}
	return c.gateway, nil
}

// ComputeAccount returns the managed wallet address on chainID.
func (g *RPCGateway) ComputeAccount(ctx context.Context, chainID int64) (common.Address, error) {
	gw, err := g.gatewayFor(chainID)
	if err != nil {
		return common.Address{}, err
	}
	var account common.Address
	if err := gw.CallContext(ctx, &account, gatewayNamespace+"_computeAccount"); err != nil {
		return common.Address{}, fmt.Errorf("failed to compute account: %w", err)
	}
	return account, nil
}

// SubmitBatch submits calls as one batch and returns the batch hash.
// An empty hash is returned as is; callers treat it as a failure.
func (g *RPCGateway) SubmitBatch(ctx context.Context, chainID int64, calls []types.Call, feeToken *common.Address) (string, error) {
	gw, err := g.gatewayFor(chainID)
	if err != nil {
		return "", err
	}
	var hash string
	if err := gw.CallContext(ctx, &hash, gatewayNamespace+"_submitBatch", calls, feeToken); err != nil {
		return "", fmt.Errorf("failed to submit batch: %w", err)
	}
	return hash, nil
}

// GetBatch fetches a batch by hash.
func (g *RPCGateway) GetBatch(ctx context.Context, chainID int64, hash string) (*types.Batch, error) {
	gw, err := g.gatewayFor(chainID)
	if err != nil {
		return nil, err
	}
	var batch *types.Batch
	if err := gw.CallContext(ctx, &batch, gatewayNamespace+"_getBatch", hash); err != nil {
		return nil, fmt.Errorf("failed to get batch %s: %w", hash, err)
	}
	if batch == nil {
		return nil, fmt.Errorf("batch %s not found", hash)
	}
	return batch, nil
}

// EstimateBatch quotes fees for calls staged as a provisional batch.
func (g *RPCGateway) EstimateBatch(ctx context.Context, chainID int64, calls []types.Call, feeToken *common.Address) (*types.BatchEstimate, error) {
	gw, err := g.gatewayFor(chainID)
	if err != nil {
		return nil, err
	}
	var est types.BatchEstimate
	if err := gw.CallContext(ctx, &est, gatewayNamespace+"_estimateBatch", calls, feeToken); err != nil {
		return nil, fmt.Errorf("failed to estimate batch: %w", err)
	}
	if est.GasPrice == nil || est.GasLimit == nil {
		return nil, fmt.Errorf("gateway returned an incomplete estimate")
	}
	return &est, nil
}

// GetTransaction reports the on-chain outcome of a transaction hash.
func (g *RPCGateway) GetTransaction(ctx context.Context, chainID int64, hash string) (types.ChainTxStatus, error) {
	node, err := g.Node(chainID)
	if err != nil {
		return "", err
	}
	return node.TransactionStatus(ctx, hash)
}

// GetAccountBalances returns address's balance of each token on chainID.
// The zero address stands for the native currency.
func (g *RPCGateway) GetAccountBalances(ctx context.Context, chainID int64, address common.Address, tokens []common.Address) (map[common.Address]*big.Int, error) {
	node, err := g.Node(chainID)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		tokens = []common.Address{types.NativeAsset}
	}
	balances := make(map[common.Address]*big.Int, len(tokens))
	for _, token := range tokens {
		balance, err := node.BalanceOf(ctx, address, token)
		if err != nil {
			return nil, err
		}
		balances[token] = balance
	}
	return balances, nil
}

// SubscribeBatchUpdates streams state changes of one batch into ch.
func (g *RPCGateway) SubscribeBatchUpdates(ctx context.Context, chainID int64, hash string, ch chan<- types.BatchUpdate) (ethereum.Subscription, error) {
	gw, err := g.gatewayFor(chainID)
	if err != nil {
		return nil, err
	}
	sub, err := gw.Subscribe(ctx, gatewayNamespace, ch, "batchUpdates", hash)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to batch %s: %w", hash, err)
	}
	return sub, nil
}

// Quote asks the chain's gateway for the calls of a swap, bridge or stake.
func (g *RPCGateway) Quote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
	gw, err := g.gatewayFor(req.ChainID)
	if err != nil {
		return nil, err
	}
	var quote *types.Quote
	if err := gw.CallContext(ctx, &quote, gatewayNamespace+"_quote", req); err != nil {
		return nil, fmt.Errorf("failed to quote %s: %w", req.Type, err)
	}
	if quote == nil || len(quote.Calls) == 0 {
		return nil, fmt.Errorf("no %s route from %s on chain %d", req.Type, req.From.Asset.Hex(), req.ChainID)
	}
	return quote, nil
}

// Close closes every connection.
func (g *RPCGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, c := range g.chains {
		if c.gateway != nil {
			c.gateway.Close()
		}
		if c.node != nil {
			c.node.Close()
		}
		delete(g.chains, id)
	}
	return nil
}
