// internal/daemon/builder/approval.go
package builder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
	"github.com/altuslabsxyz/xchain-dispatch/internal/infrastructure/evm"
)

// PrependApproval puts an approve(spender, amount) of token in front of txs.
// Nothing is added for the native currency, a zero spender, or when txs
// already approve spender on token.
func PrependApproval(chainID int64, token, spender common.Address, amount *big.Int, txs []*types.Transaction) ([]*types.Transaction, error) {
	if types.IsNative(token) || spender == (common.Address{}) {
		return txs, nil
	}
	if hasApproval(txs, token, spender) {
		return txs, nil
	}

	data, err := evm.PackApprove(spender, amount)
	if err != nil {
		return nil, fmt.Errorf("encode approve: %w", err)
	}
	approval := types.NewTransaction(chainID, token, nil, data)
	return append([]*types.Transaction{approval}, txs...), nil
}

func hasApproval(txs []*types.Transaction, token, spender common.Address) bool {
	for _, tx := range txs {
		if tx.To != token {
			continue
		}
		if s, _, ok := evm.ParseApprove(tx.Data); ok && s == spender {
			return true
		}
	}
	return false
}
