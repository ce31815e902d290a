// internal/daemon/builder/builder_test.go
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
	"github.com/altuslabsxyz/xchain-dispatch/internal/infrastructure/evm"
)

var (
	sender   = common.HexToAddress("0x5e0d")
	receiver = common.HexToAddress("0xbeef")
	usdc     = common.HexToAddress("0xa0b8")
	router   = common.HexToAddress("0x7011")
)

var txCmpOpts = []cmp.Option{
	cmpopts.IgnoreFields(types.Transaction{}, "CreateTimestamp"),
	cmp.Comparer(func(a, b *hexutil.Big) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.ToInt().Cmp(b.ToInt()) == 0
	}),
}

type fakeQuoter struct {
	requests []types.QuoteRequest
	spender  common.Address
	calls    []types.Call
	err      error
}

func (q *fakeQuoter) Quote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
	q.requests = append(q.requests, req)
	if q.err != nil {
		return nil, q.err
	}
	calls := q.calls
	if calls == nil {
		calls = []types.Call{{To: router, Data: hexutil.Bytes{0xde, 0xad}}}
	}
	return &types.Quote{
		Provider: "test-dex",
		Spender:  q.spender,
		Calls:    calls,
		Receive: types.AssetAmount{
			Asset:  req.ToAsset,
			Amount: (*hexutil.Big)(big.NewInt(990)),
		},
	}, nil
}

func amount(asset common.Address, v int64) types.AssetAmount {
	return types.AssetAmount{Asset: asset, Decimals: 18, Amount: (*hexutil.Big)(big.NewInt(v))}
}

func values(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func newTestBuilder(q Quoter) *Builder {
	b := New(DefaultRegistry(q))
	n := 0
	b.newID = func() string {
		n++
		return "action-" + string(rune('0'+n))
	}
	return b
}

func TestBuild_SendNativeAndERC20(t *testing.T) {
	b := newTestBuilder(nil)

	actions, err := b.Build(context.Background(), []Block{
		{ID: "b1", Type: types.ActionSend, ChainID: 1, Values: values(t, sendValues{Receiver: receiver, Asset: amount(types.NativeAsset, 5)})},
		{ID: "b2", Type: types.ActionSend, ChainID: 2, Values: values(t, sendValues{Receiver: receiver, Asset: amount(usdc, 7)})},
	}, Options{Sender: sender})
	require.NoError(t, err)
	require.Len(t, actions, 2)

	transfer, err := evm.PackTransfer(receiver, big.NewInt(7))
	require.NoError(t, err)

	want := [][]*types.Transaction{
		{{To: receiver, Value: (*hexutil.Big)(big.NewInt(5)), ChainID: 1, Status: types.TxStatusUnsent}},
		{{To: usdc, Data: transfer, ChainID: 2, Status: types.TxStatusUnsent}},
	}
	for i, a := range actions {
		if diff := cmp.Diff(want[i], a.Transactions, txCmpOpts...); diff != "" {
			t.Errorf("action %d transactions mismatch (-want +got):\n%s", i, diff)
		}
	}
	assert.Equal(t, "b1", actions[0].RelatedBuilderBlockID)
	assert.IsType(t, &types.SendPreview{}, actions[0].Preview)
}

func TestBuild_SwapPrependsApproval(t *testing.T) {
	q := &fakeQuoter{spender: router}
	b := newTestBuilder(q)

	actions, err := b.Build(context.Background(), []Block{
		{ID: "s1", Type: types.ActionSwap, ChainID: 1, Values: values(t, swapValues{From: amount(usdc, 1000), To: types.AssetAmount{Asset: types.NativeAsset, Symbol: "ETH"}})},
	}, Options{Sender: sender})
	require.NoError(t, err)
	require.Len(t, actions, 1)

	txs := actions[0].Transactions
	require.Len(t, txs, 2)
	assert.Equal(t, usdc, txs[0].To)
	spender, approved, ok := evm.ParseApprove(txs[0].Data)
	require.True(t, ok)
	assert.Equal(t, router, spender)
	assert.Equal(t, int64(1000), approved.Int64())
	assert.Equal(t, router, txs[1].To)

	preview := actions[0].Preview.(*types.SwapPreview)
	assert.Equal(t, "ETH", preview.To.Symbol)
	assert.Equal(t, int64(990), preview.Incoming().Amount.ToInt().Int64())
	assert.Equal(t, sender, q.requests[0].Sender)
}

func TestBuild_ExistingApprovalNotDuplicated(t *testing.T) {
	approve, err := evm.PackApprove(router, big.NewInt(1000))
	require.NoError(t, err)
	q := &fakeQuoter{
		spender: router,
		calls: []types.Call{
			{To: usdc, Data: approve},
			{To: router, Data: hexutil.Bytes{0x01}},
		},
	}

	actions, err := newTestBuilder(q).Build(context.Background(), []Block{
		{ID: "s1", Type: types.ActionSwap, ChainID: 1, Values: values(t, swapValues{From: amount(usdc, 1000), To: types.AssetAmount{Asset: types.NativeAsset}})},
	}, Options{Sender: sender})
	require.NoError(t, err)
	assert.Len(t, actions[0].Transactions, 2)
}

func TestBuild_NativeSourceNeedsNoApproval(t *testing.T) {
	q := &fakeQuoter{spender: router}
	actions, err := newTestBuilder(q).Build(context.Background(), []Block{
		{ID: "s1", Type: types.ActionSwap, ChainID: 1, Values: values(t, swapValues{From: amount(types.NativeAsset, 1), To: types.AssetAmount{Asset: usdc}})},
	}, Options{Sender: sender})
	require.NoError(t, err)
	assert.Len(t, actions[0].Transactions, 1)
}

func TestBuild_SameChainMerge(t *testing.T) {
	q := &fakeQuoter{}
	b := newTestBuilder(q)

	send := func(id string, chain int64) Block {
		return Block{ID: id, Type: types.ActionSend, ChainID: chain, Values: values(t, sendValues{Receiver: receiver, Asset: amount(types.NativeAsset, 1)})}
	}
	bridge := Block{ID: "br", Type: types.ActionBridge, ChainID: 1, Values: values(t, bridgeValues{ToChainID: 2, From: amount(types.NativeAsset, 1)})}

	actions, err := b.Build(context.Background(), []Block{
		send("a", 1), bridge, send("b", 1), send("c", 2), send("d", 1),
	}, Options{Sender: sender})
	require.NoError(t, err)
	require.Len(t, actions, 3)

	assert.Equal(t, "a", actions[0].RelatedBuilderBlockID)
	require.Len(t, actions[0].BatchTransactions, 2)
	assert.Equal(t, "b", actions[0].BatchTransactions[0].RelatedBuilderBlockID)
	assert.Equal(t, "d", actions[0].BatchTransactions[1].RelatedBuilderBlockID)
	assert.Len(t, actions[0].AllTransactions(), 3)

	assert.Equal(t, types.ActionBridge, actions[1].Type)
	assert.Empty(t, actions[1].BatchTransactions)
	assert.Equal(t, int64(2), actions[2].ChainID)

	// bridges default the receiver to the sender
	assert.Equal(t, sender, q.requests[0].Receiver)
}

func TestBuild_MultiCallChainJoinsAndSeeds(t *testing.T) {
	q := &fakeQuoter{}
	b := newTestBuilder(q)

	planner := NewChainPlanner()
	first := planner.Start(1, "swap")
	require.NoError(t, planner.Record(first.ID, "swap", &types.SwapPreview{
		From: amount(types.NativeAsset, 1),
		To:   amount(usdc, 990),
	}))
	second, err := planner.Extend(first.ID, "swap", "send")
	require.NoError(t, err)

	actions, err := b.Build(context.Background(), []Block{
		{ID: "swap", Type: types.ActionSwap, ChainID: 1, MultiCall: first, Values: values(t, swapValues{From: amount(types.NativeAsset, 1), To: types.AssetAmount{Asset: usdc}})},
		{ID: "other", Type: types.ActionSend, ChainID: 1, Values: values(t, sendValues{Receiver: receiver, Asset: amount(types.NativeAsset, 3)})},
		// amount is replaced by the chain seed
		{ID: "send", Type: types.ActionSend, ChainID: 1, MultiCall: second, Values: values(t, sendValues{Receiver: receiver, Asset: amount(usdc, 1)})},
	}, Options{Sender: sender})
	require.NoError(t, err)
	require.Len(t, actions, 2)

	head := actions[0]
	require.NotNil(t, head.MultiCallData)
	require.Len(t, head.BatchTransactions, 1)
	member := head.BatchTransactions[0]
	assert.Equal(t, "send", member.RelatedBuilderBlockID)
	assert.Equal(t, int64(990), member.Preview.Outgoing().Amount.ToInt().Int64())

	// the chained send is not merged with the plain send
	assert.Equal(t, "other", actions[1].RelatedBuilderBlockID)
	assert.Empty(t, actions[1].BatchTransactions)
}

func TestBuild_FailureAbortsWholeBuild(t *testing.T) {
	q := &fakeQuoter{err: errors.New("no liquidity")}
	b := newTestBuilder(q)

	actions, err := b.Build(context.Background(), []Block{
		{ID: "ok", Type: types.ActionSend, ChainID: 1, Values: values(t, sendValues{Receiver: receiver, Asset: amount(types.NativeAsset, 1)})},
		{ID: "bad", Type: types.ActionSwap, ChainID: 1, Values: values(t, swapValues{From: amount(usdc, 1), To: types.AssetAmount{Asset: types.NativeAsset}})},
	}, Options{Sender: sender})
	assert.Nil(t, actions)
	require.Error(t, err)

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "bad", be.BlockID)
	assert.Contains(t, err.Error(), "no liquidity")
}

func TestBuild_InvalidBlocks(t *testing.T) {
	tests := []struct {
		name  string
		block Block
	}{
		{name: "unknown type", block: Block{ID: "x", Type: "lend", ChainID: 1, Values: json.RawMessage(`{}`)}},
		{name: "missing chain", block: Block{ID: "x", Type: types.ActionSend, Values: json.RawMessage(`{}`)}},
		{name: "missing values", block: Block{ID: "x", Type: types.ActionSend, ChainID: 1}},
		{name: "unknown field", block: Block{ID: "x", Type: types.ActionSend, ChainID: 1, Values: json.RawMessage(`{"recipient":"0x01"}`)}},
		{name: "zero amount", block: Block{ID: "x", Type: types.ActionSend, ChainID: 1, Values: values(t, sendValues{Receiver: receiver, Asset: amount(usdc, 0)})}},
		{name: "bridge to same chain", block: Block{ID: "x", Type: types.ActionBridge, ChainID: 1, Values: values(t, bridgeValues{ToChainID: 1, From: amount(usdc, 1)})}},
		{name: "stake without protocol", block: Block{ID: "x", Type: types.ActionStake, ChainID: 1, Values: values(t, stakeValues{Asset: amount(usdc, 1)})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestBuilder(&fakeQuoter{}).Build(context.Background(), []Block{tt.block}, Options{Sender: sender})
			require.Error(t, err)
			assert.True(t, IsBuildError(err))
		})
	}
}

func TestBuild_ChainValidation(t *testing.T) {
	md := func(index int, chain int64, last string) *types.MultiCallData {
		return &types.MultiCallData{ID: "chain-1", Chain: chain, Index: index, LastCallID: last}
	}
	send := func(id string, chain int64, m *types.MultiCallData) Block {
		return Block{ID: id, Type: types.ActionSend, ChainID: chain, MultiCall: m, Values: values(t, sendValues{Receiver: receiver, Asset: amount(types.NativeAsset, 1)})}
	}

	tests := []struct {
		name   string
		blocks []Block
	}{
		{name: "link on other chain", blocks: []Block{send("a", 1, md(0, 2, ""))}},
		{name: "chain spans chains", blocks: []Block{send("a", 1, md(0, 0, "")), send("b", 2, md(1, 0, "a"))}},
		{name: "index not increasing", blocks: []Block{send("a", 1, md(1, 1, "")), send("b", 1, md(1, 1, "a"))}},
		{name: "wrong predecessor", blocks: []Block{send("a", 1, md(0, 1, "")), send("b", 1, md(1, 1, "z"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestBuilder(nil).Build(context.Background(), tt.blocks, Options{Sender: sender})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidChain)
		})
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := DefaultRegistry(nil)
	assert.Equal(t, []types.ActionType{types.ActionBridge, types.ActionSend, types.ActionStake, types.ActionSwap}, r.Types())

	err := r.Register(&SendStrategy{})
	assert.Error(t, err)
}
