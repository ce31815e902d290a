// internal/daemon/builder/planner_test.go
package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

func TestChainPlanner_SeedSubtractsSends(t *testing.T) {
	p := NewChainPlanner()

	first := p.Start(10, "swap")
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, int64(10), first.Chain)

	// nothing received yet
	_, err := p.Extend(first.ID, "swap", "x")
	require.ErrorIs(t, err, ErrInvalidChain)

	require.NoError(t, p.Record(first.ID, "swap", &types.SwapPreview{
		From: amount(types.NativeAsset, 1),
		To:   amount(usdc, 100),
	}))

	second, err := p.Extend(first.ID, "swap", "send")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, "swap", second.LastCallID)
	assert.Equal(t, usdc, *second.Token)
	assert.Equal(t, int64(100), second.Value.ToInt().Int64())

	require.NoError(t, p.Record(first.ID, "send", &types.SendPreview{Receiver: receiver, Asset: amount(usdc, 30)}))

	seed, err := p.SeedValue(first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), seed.Amount.ToInt().Int64())

	third, err := p.Extend(first.ID, "send", "stake")
	require.NoError(t, err)
	assert.Equal(t, 2, third.Index)
	assert.Equal(t, int64(70), third.Value.ToInt().Int64())

	links := p.Links(first.ID)
	require.Len(t, links, 3)
	assert.True(t, links[0].Fixed)
	assert.True(t, links[1].Fixed)
	assert.False(t, links[2].Fixed)
}

func TestChainPlanner_OnlyTailExtends(t *testing.T) {
	p := NewChainPlanner()
	first := p.Start(1, "a")
	require.NoError(t, p.Record(first.ID, "a", &types.SwapPreview{To: amount(usdc, 5)}))
	_, err := p.Extend(first.ID, "a", "b")
	require.NoError(t, err)

	_, err = p.Extend(first.ID, "a", "c")
	assert.ErrorIs(t, err, ErrInvalidChain, "a is no longer the tail")

	err = p.Record(first.ID, "a", &types.SwapPreview{To: amount(usdc, 6)})
	assert.ErrorIs(t, err, ErrInvalidChain, "fixed links cannot be re-edited")

	_, err = p.Extend("missing", "a", "c")
	assert.ErrorIs(t, err, ErrInvalidChain)
}

func TestChainPlanner_RemoveTailUnfixes(t *testing.T) {
	p := NewChainPlanner()
	first := p.Start(1, "a")
	require.NoError(t, p.Record(first.ID, "a", &types.SwapPreview{To: amount(usdc, 5)}))
	_, err := p.Extend(first.ID, "a", "b")
	require.NoError(t, err)

	require.NoError(t, p.RemoveTail(first.ID))
	links := p.Links(first.ID)
	require.Len(t, links, 1)
	assert.False(t, links[0].Fixed)

	require.NoError(t, p.Record(first.ID, "a", &types.SwapPreview{To: amount(usdc, 6)}))

	require.NoError(t, p.RemoveTail(first.ID))
	assert.Empty(t, p.Links(first.ID))
}

func TestChainPlanner_OverspentChain(t *testing.T) {
	p := NewChainPlanner()
	first := p.Start(1, "swap")
	require.NoError(t, p.Record(first.ID, "swap", &types.SwapPreview{To: amount(usdc, 10)}))
	_, err := p.Extend(first.ID, "swap", "send")
	require.NoError(t, err)
	require.NoError(t, p.Record(first.ID, "send", &types.SendPreview{Receiver: receiver, Asset: amount(usdc, 11)}))

	_, err = p.SeedValue(first.ID)
	assert.ErrorIs(t, err, ErrInvalidChain)
}
