package witness

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/block"
)

func testBlock(hash, parent string, height uint32) *block.Block {
	return &block.Block{StateHash: hash, ParentHash: parent, Height: height}
}

// chainBlocks builds a linear chain of n blocks on top of parent.
func chainBlocks(prefix, parent string, startHeight uint32, n int) []*block.Block {
	out := make([]*block.Block, 0, n)
	prev := parent
	for i := 0; i < n; i++ {
		hash := fmt.Sprintf("%s%d", prefix, i)
		out = append(out, testBlock(hash, prev, startHeight+uint32(i)))
		prev = hash
	}
	return out
}

func TestBranchExtension(t *testing.T) {
	br := NewBranch(testBlock("3Nroot", block.RootParentSentinel, 1))

	id, ok := br.Extension(testBlock("3Na", "3Nroot", 2))
	require.True(t, ok)
	assert.Equal(t, "3Na", br.Block(id).StateHash)
	assert.Equal(t, 2, br.Len())

	// no attachment point in this branch
	_, ok = br.Extension(testBlock("3Nb", "3Nelsewhere", 3))
	assert.False(t, ok)
	assert.Equal(t, 2, br.Len())
}

func TestBranchBestTipTieBreak(t *testing.T) {
	br := NewBranch(testBlock("3Nroot", block.RootParentSentinel, 1))
	_, ok := br.Extension(testBlock("3Nfirst", "3Nroot", 2))
	require.True(t, ok)
	_, ok = br.Extension(testBlock("3Nsecond", "3Nroot", 2))
	require.True(t, ok)

	// equal heights: the earliest-inserted fork wins, never the hash
	_, tip := br.BestTip()
	assert.Equal(t, "3Nfirst", tip.StateHash)
}

func TestBranchReroot(t *testing.T) {
	br := NewBranch(testBlock("3Nchild", "3Nparent", 5))

	_, err := br.Reroot(testBlock("3Nstranger", "3Nwhatever", 4))
	assert.Error(t, err)

	id, err := br.Reroot(testBlock("3Nparent", "3Ngrandparent", 4))
	require.NoError(t, err)
	assert.Equal(t, "3Nparent", br.Block(id).StateHash)
	assert.Equal(t, "3Nparent", br.RootBlock().StateHash)
	assert.Equal(t, "3Nchild", br.BestTipBlock().StateHash)
	assert.Equal(t, id, br.Parent(0))
}

func TestBranchMergeOn(t *testing.T) {
	br := NewBranch(testBlock("3Nroot", block.RootParentSentinel, 1))
	tipID, ok := br.Extension(testBlock("3Na", "3Nroot", 2))
	require.True(t, ok)

	other := NewBranch(testBlock("3Nb", "3Na", 3))
	_, ok = other.Extension(testBlock("3Nc", "3Nb", 4))
	require.True(t, ok)

	require.NoError(t, br.MergeOn(tipID, other))
	assert.Equal(t, 4, br.Len())
	assert.Equal(t, "3Nc", br.BestTipBlock().StateHash)

	id, found := br.NodeByHash("3Nb")
	require.True(t, found)
	assert.Equal(t, "3Na", br.Block(br.Parent(id)).StateHash)
}

func TestBranchMergeOnWrongAttachPoint(t *testing.T) {
	br := NewBranch(testBlock("3Nroot", block.RootParentSentinel, 1))
	other := NewBranch(testBlock("3Nb", "3Nsomewhere", 3))
	assert.Error(t, br.MergeOn(br.root, other))
}

func TestBranchCanonicalTip(t *testing.T) {
	br := NewBranch(testBlock("3Nroot", block.RootParentSentinel, 1))
	for _, b := range chainBlocks("3Nc", "3Nroot", 2, 5) {
		_, ok := br.Extension(b)
		require.True(t, ok)
	}

	_, b, ok := br.CanonicalTip(3)
	require.True(t, ok)
	assert.Equal(t, uint32(3), b.Height)

	_, _, ok = br.CanonicalTip(6)
	assert.False(t, ok, "branch is only 5 deep below the tip")
}

func TestBranchPruneTo(t *testing.T) {
	br := NewBranch(testBlock("3Nroot", block.RootParentSentinel, 1))
	chain := chainBlocks("3Nc", "3Nroot", 2, 6)
	for _, b := range chain {
		_, ok := br.Extension(b)
		require.True(t, ok)
	}
	// a fork off the root that pruning should discard
	_, ok := br.Extension(testBlock("3Nfork", "3Nroot", 2))
	require.True(t, ok)

	newRoot, found := br.NodeByHash("3Nc2")
	require.True(t, found)
	dropped := br.PruneTo(newRoot)

	assert.Equal(t, 4, dropped) // root, c0, c1 and the fork
	assert.Equal(t, "3Nc2", br.RootBlock().StateHash)
	assert.Equal(t, "3Nc5", br.BestTipBlock().StateHash)
	assert.False(t, br.Has("3Nfork"))
	assert.False(t, br.Has("3Nroot"))
	for _, hash := range []string{"3Nc2", "3Nc3", "3Nc4", "3Nc5"} {
		assert.True(t, br.Has(hash), hash)
	}
}
