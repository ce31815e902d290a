// internal/daemon/store/ledger_test.go
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

func testAction(id string, statuses ...types.TxStatus) *types.CrossChainAction {
	a := &types.CrossChainAction{
		ID:      id,
		ChainID: 1,
		Type:    types.ActionSend,
		Preview: &types.SendPreview{Receiver: common.HexToAddress("0xbeef")},
	}
	for _, s := range statuses {
		tx := types.NewTransaction(1, common.HexToAddress("0xbeef"), nil, nil)
		tx.Status = s
		a.Transactions = append(a.Transactions, tx)
	}
	return a
}

func TestLedgerStore_LoadEmpty(t *testing.T) {
	ls := NewLedgerStore(NewMemoryStore(), "")
	assert.Equal(t, DefaultLedgerKey, ls.Key())

	ledger, err := ls.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func TestLedgerStore_SaveLoadRoundTrip(t *testing.T) {
	kv, err := NewBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer kv.Close()

	ctx := context.Background()
	ls := NewLedgerStore(kv, "")

	ledger := types.Ledger{
		"100-0": {testAction("a", types.TxStatusPending)},
		"200-0": {testAction("b", types.TxStatusUnsent, types.TxStatusUnsent)},
	}
	require.NoError(t, ls.Save(ctx, ledger))

	loaded, err := ls.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, types.TxStatusPending, loaded["100-0"][0].Transactions[0].Status)
	assert.Len(t, loaded["200-0"][0].Transactions, 2)
	assert.IsType(t, &types.SendPreview{}, loaded["200-0"][0].Preview)

	group, err := ls.Group(ctx, "200-0")
	require.NoError(t, err)
	assert.Equal(t, "b", group[0].ID)

	_, err = ls.Group(ctx, "999-0")
	assert.True(t, IsNotFound(err))
}

func TestLedgerStore_SaveDropsTerminalGroups(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()
	ls := NewLedgerStore(kv, "")

	require.NoError(t, ls.Save(ctx, types.Ledger{
		"100-0": {testAction("done", types.TxStatusConfirmed, types.TxStatusFailed)},
		"200-0": {testAction("live", types.TxStatusPending)},
		"300-0": {},
	}))

	loaded, err := ls.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Contains(t, loaded, "200-0")

	// once nothing is left the entry itself goes away
	require.NoError(t, ls.Save(ctx, types.Ledger{
		"200-0": {testAction("live", types.TxStatusConfirmed)},
	}))
	_, ok, _ := kv.GetItem(ctx, DefaultLedgerKey)
	assert.False(t, ok)
}

func TestLedgerStore_CorruptEntry(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, kv.SetItem(ctx, DefaultLedgerKey, "{not json"))

	_, err := NewLedgerStore(kv, "").Load(ctx)
	var corrupt *CorruptLedgerError
	assert.ErrorAs(t, err, &corrupt)
}

func TestLedgerStore_Lease(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ls := NewLedgerStore(kv, "")
	ls.now = func() time.Time { return now }

	require.NoError(t, ls.AcquireLease(ctx, "session-a", time.Minute))
	// renewal by the same owner succeeds
	require.NoError(t, ls.AcquireLease(ctx, "session-a", time.Minute))

	err := ls.AcquireLease(ctx, "session-b", time.Minute)
	require.Error(t, err)
	assert.True(t, IsLeaseHeld(err))

	// an expired lease can be taken over
	now = now.Add(2 * time.Minute)
	require.NoError(t, ls.AcquireLease(ctx, "session-b", time.Minute))

	// releasing someone else's lease is a no-op
	require.NoError(t, ls.ReleaseLease(ctx, "session-a"))
	assert.True(t, IsLeaseHeld(ls.AcquireLease(ctx, "session-a", time.Minute)))

	require.NoError(t, ls.ReleaseLease(ctx, "session-b"))
	require.NoError(t, ls.AcquireLease(ctx, "session-a", time.Minute))
}
