// Package estimator checks whether a CrossChainAction is affordable and
// what its fees cost.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// ErrInsufficientFunds matches every InsufficientFundsError.
var ErrInsufficientFunds = errors.New("insufficient funds")

// InsufficientFundsError is returned when the payer cannot cover an action.
type InsufficientFundsError struct {
	Asset   common.Address
	Balance *big.Int
	Cost    *big.Int
}

func (e *InsufficientFundsError) Error() string {
	asset := "native currency"
	if !types.IsNative(e.Asset) {
		asset = e.Asset.Hex()
	}
	return fmt.Sprintf("insufficient funds: %s balance %s is below the fee of %s", asset, e.Balance, e.Cost)
}

// Is lets errors.Is match ErrInsufficientFunds.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Gateway is the part of the chain gateway the estimator reads.
type Gateway interface {
	ComputeAccount(ctx context.Context, chainID int64) (common.Address, error)
	GetAccountBalances(ctx context.Context, chainID int64, address common.Address, tokens []common.Address) (map[common.Address]*big.Int, error)
	EstimateBatch(ctx context.Context, chainID int64, calls []types.Call, feeToken *common.Address) (*types.BatchEstimate, error)
}

// Signer is the part of the external signer the estimator reads.
type Signer interface {
	Address() common.Address
	EstimateGas(ctx context.Context, chainID int64, call types.Call) (uint64, error)
	SuggestGasPrice(ctx context.Context, chainID int64) (*big.Int, error)
}

// PriceService returns USD prices of whole units.
type PriceService interface {
	PriceOf(ctx context.Context, chainID int64, asset common.Address) (math.LegacyDec, error)
	NativePriceOf(ctx context.Context, chainID int64) (math.LegacyDec, error)
}

// DecimalsFunc returns the decimals of asset on chainID.
type DecimalsFunc func(chainID int64, asset common.Address) uint8

// Estimator computes fee estimates.
type Estimator struct {
	gateway  Gateway
	signer   Signer
	prices   PriceService
	decimals DecimalsFunc
	logger   *slog.Logger
}

// New creates an estimator. signer and prices may be nil.
func New(gateway Gateway, signer Signer, prices PriceService) *Estimator {
	return &Estimator{
		gateway:  gateway,
		signer:   signer,
		prices:   prices,
		decimals: func(int64, common.Address) uint8 { return 18 },
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger for the estimator.
func (e *Estimator) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

// SetDecimals sets the decimals lookup used for fiat conversion.
func (e *Estimator) SetDecimals(fn DecimalsFunc) {
	e.decimals = fn
}

// Apply estimates action and stores the outcome in action.Estimated. A
// failed estimate is stored with its error message and also returned.
func (e *Estimator) Apply(ctx context.Context, action *types.CrossChainAction) error {
	action.IsEstimating = true
	est, err := e.Estimate(ctx, action)
	action.IsEstimating = false
	if err != nil {
		action.Estimated = &types.Estimate{FeeAsset: feeAssetOf(action), Error: err.Error()}
		return err
	}
	action.Estimated = est
	return nil
}

// Estimate returns the fee of action. When the payer's remaining balance
// of the fee asset is zero or below the fee, an InsufficientFundsError is
// returned instead.
func (e *Estimator) Estimate(ctx context.Context, action *types.CrossChainAction) (*types.Estimate, error) {
	feeAsset := feeAssetOf(action)
	txs := remaining(action)

	payer, err := e.payer(ctx, action)
	if err != nil {
		return nil, err
	}

	balances, err := e.gateway.GetAccountBalances(ctx, action.ChainID, payer, []common.Address{feeAsset})
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	balance := new(big.Int)
	if b := balances[feeAsset]; b != nil {
		balance.Set(b)
	}
	balance.Sub(balance, spent(action, txs, feeAsset))

	var cost *big.Int
	if action.UsesExternalSigner {
		cost, err = e.signerCost(ctx, action.ChainID, txs)
	} else {
		cost, err = e.gatewayCost(ctx, action, txs)
	}
	if err != nil {
		return nil, err
	}

	if balance.Sign() <= 0 || balance.Cmp(cost) < 0 {
		return nil, &InsufficientFundsError{Asset: feeAsset, Balance: balance, Cost: cost}
	}

	est := &types.Estimate{FeeAsset: feeAsset, Cost: (*hexutil.Big)(cost)}
	if fiat, err := e.fiat(ctx, action.ChainID, feeAsset, cost); err != nil {
		e.logger.Debug("fiat price unavailable", "action", action.ID, "asset", feeAsset.Hex(), "error", err)
	} else {
		est.FiatCost = fiat
	}
	return est, nil
}

func (e *Estimator) payer(ctx context.Context, action *types.CrossChainAction) (common.Address, error) {
	if action.UsesExternalSigner {
		if e.signer == nil {
			return common.Address{}, fmt.Errorf("no external signer configured")
		}
		return e.signer.Address(), nil
	}
	account, err := e.gateway.ComputeAccount(ctx, action.ChainID)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to compute account: %w", err)
	}
	return account, nil
}

// signerCost sums per-transaction gas limits at the current gas price.
func (e *Estimator) signerCost(ctx context.Context, chainID int64, txs []*types.Transaction) (*big.Int, error) {
	if e.signer == nil {
		return nil, fmt.Errorf("no external signer configured")
	}
	gasPrice, err := e.signer.SuggestGasPrice(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	var gas uint64
	for _, tx := range txs {
		limit, err := e.signer.EstimateGas(ctx, chainID, tx.Call())
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gas += limit
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice), nil
}

// gatewayCost stages txs as a provisional batch and prices it.
func (e *Estimator) gatewayCost(ctx context.Context, action *types.CrossChainAction, txs []*types.Transaction) (*big.Int, error) {
	calls := make([]types.Call, len(txs))
	for i, tx := range txs {
		calls[i] = tx.Call()
	}

	est, err := e.gateway.EstimateBatch(ctx, action.ChainID, calls, action.GasTokenOverride)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate batch: %w", err)
	}

	if action.GasTokenOverride != nil && !types.IsNative(*action.GasTokenOverride) {
		if est.FeeAmount == nil {
			return nil, fmt.Errorf("gateway returned no fee amount for %s", action.GasTokenOverride.Hex())
		}
		return new(big.Int).Set(est.FeeAmount.ToInt()), nil
	}
	return new(big.Int).Mul(est.GasPrice.ToInt(), est.GasLimit.ToInt()), nil
}

func (e *Estimator) fiat(ctx context.Context, chainID int64, asset common.Address, cost *big.Int) (string, error) {
	if e.prices == nil {
		return "", fmt.Errorf("no price service configured")
	}

	var usd math.LegacyDec
	var err error
	if types.IsNative(asset) {
		usd, err = e.prices.NativePriceOf(ctx, chainID)
	} else {
		usd, err = e.prices.PriceOf(ctx, chainID, asset)
	}
	if err != nil {
		return "", err
	}
	return FiatValue(cost, e.decimals(chainID, asset), usd).String(), nil
}

// FiatValue converts amount smallest units into USD.
func FiatValue(amount *big.Int, decimals uint8, usd math.LegacyDec) math.LegacyDec {
	scale := math.NewIntFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return math.LegacyNewDecFromBigInt(amount).QuoInt(scale).Mul(usd)
}

// feeAssetOf is the override, or native. External signers always pay
// gas in the native currency.
func feeAssetOf(action *types.CrossChainAction) common.Address {
	if action.UsesExternalSigner || action.GasTokenOverride == nil {
		return types.NativeAsset
	}
	return *action.GasTokenOverride
}

// remaining returns the transactions still to be sent, or all of them
// once everything was sent.
func remaining(action *types.CrossChainAction) []*types.Transaction {
	all := action.AllTransactions()
	var unsent []*types.Transaction
	for _, tx := range all {
		if tx.Status == types.TxStatusUnsent {
			unsent = append(unsent, tx)
		}
	}
	if len(unsent) == 0 {
		return all
	}
	return unsent
}

// spent is what the action itself takes out of the fee asset balance:
// native value of its transactions when the fee asset is native, and the
// outgoing token amount of the action and its members when it matches.
func spent(action *types.CrossChainAction, txs []*types.Transaction, feeAsset common.Address) *big.Int {
	total := new(big.Int)
	if types.IsNative(feeAsset) {
		for _, tx := range txs {
			if tx.Value != nil {
				total.Add(total, tx.Value.ToInt())
			}
		}
		return total
	}

	members := append([]*types.CrossChainAction{action}, action.BatchTransactions...)
	for _, m := range members {
		if m.Preview == nil {
			continue
		}
		out := m.Preview.Outgoing()
		if out != nil && out.Amount != nil && out.Asset == feeAsset {
			total.Add(total, out.Amount.ToInt())
		}
	}
	return total
}
