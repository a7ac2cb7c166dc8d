package state

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/config"
	"github.com/treelinehq/treeline/store"
	"github.com/treelinehq/treeline/witness"
)

func testWitnessConfig() witness.Config {
	return witness.Config{
		TransitionFrontierK:      20,
		CanonicalUpdateThreshold: 2,
		PruneInterval:            5,
		MaxDanglingBranches:      16,
		MaxDanglingAge:           time.Hour,
	}
}

func newTestState(t *testing.T) *IndexerState {
	t.Helper()
	st, err := store.NewIndexerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	genesis := []config.GenesisAccount{{Address: "alice", Balance: 1000}}
	s, err := New("3Nroot", 1, genesis, st, testWitnessConfig())
	require.NoError(t, err)
	return s
}

// testChain builds a linear chain on top of the root, each block crediting
// one account.
func testChain(n int) []*block.Block {
	out := make([]*block.Block, 0, n)
	prev := "3Nroot"
	for i := 0; i < n; i++ {
		hash := fmt.Sprintf("3Nc%d", i)
		out = append(out, &block.Block{
			StateHash:  hash,
			ParentHash: prev,
			Height:     uint32(2 + i),
			LedgerDiff: []block.AccountDiff{{Address: "alice", Delta: 10, Nonce: uint64(i + 1)}},
		})
		prev = hash
	}
	return out
}

func TestAddBlockPersistsUnconditionally(t *testing.T) {
	s := newTestState(t)

	// rejected by the witness (below root height) but still persisted
	stale := &block.Block{StateHash: "3Nstale", ParentHash: "3Nold", Height: 1}
	ext, err := s.AddBlock(stale)
	require.NoError(t, err)
	assert.Equal(t, witness.BlockNotAdded, ext)

	got, err := s.Store().GetBlock("3Nstale")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Zero(t, s.BlocksProcessed())
}

func TestBlocksProcessedCountsOnlyPlacedBlocks(t *testing.T) {
	s := newTestState(t)
	b := testChain(1)[0]

	ext, err := s.AddBlock(b)
	require.NoError(t, err)
	assert.Equal(t, witness.RootSimple, ext)

	// a replay of the same block is persisted but not counted again
	ext, err = s.AddBlock(b)
	require.NoError(t, err)
	assert.Equal(t, witness.BlockNotAdded, ext)
	assert.Equal(t, uint64(1), s.BlocksProcessed())
}

func TestLedgerFollowsCanonicalTip(t *testing.T) {
	s := newTestState(t)
	chain := testChain(6)
	for _, b := range chain {
		_, err := s.AddBlock(b)
		require.NoError(t, err)
	}

	// best tip at height 7, canonical lags by 2 -> height 5, i.e. blocks
	// c0..c3 are canonical: four credits of 10
	require.Equal(t, uint32(5), s.CanonicalTip().Block.Height)
	alice, err := s.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1040), alice.Balance)
	assert.Equal(t, uint64(4), alice.Nonce)

	// canonical account state is mirrored into the store
	stored, err := s.Store().GetAccount("alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, uint256.NewInt(1040), stored.Balance)
	assert.Equal(t, uint64(4), stored.Nonce)
}

func TestBestChainOrder(t *testing.T) {
	s := newTestState(t)
	for _, b := range testChain(5) {
		_, err := s.AddBlock(b)
		require.NoError(t, err)
	}

	chain := s.BestChain(3)
	require.Len(t, chain, 3)
	assert.Equal(t, "3Nc4", chain[0].StateHash)
	assert.Equal(t, "3Nc3", chain[1].StateHash)
	assert.Equal(t, "3Nc2", chain[2].StateHash)

	// asking for more than exists stops at the root
	full := s.BestChain(100)
	assert.Equal(t, 6, len(full)) // 5 blocks + root anchor
}

func TestSummaries(t *testing.T) {
	s := newTestState(t)
	for _, b := range testChain(4) {
		_, err := s.AddBlock(b)
		require.NoError(t, err)
	}
	// an orphan so the verbose summary has a dangling branch to report
	_, err := s.AddBlock(&block.Block{StateHash: "3Nd", ParentHash: "3Nlost", Height: 9})
	require.NoError(t, err)

	short := s.SummaryShort()
	assert.Equal(t, uint64(5), short.BlocksProcessed)
	assert.Equal(t, "3Nc3", short.BestTip.StateHash)
	assert.Zero(t, short.DanglingBranches)

	verbose := s.SummaryVerbose()
	assert.Equal(t, 1, verbose.DanglingBranches)
	require.Len(t, verbose.DanglingRoots, 1)
	assert.Equal(t, "3Nd", verbose.DanglingRoots[0].StateHash)
	assert.Equal(t, 5, verbose.RootBranchBlocks) // root anchor + 4 blocks
	assert.Equal(t, 1, verbose.LedgerAccounts)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestState(t)
	for _, b := range testChain(8) {
		_, err := s.AddBlock(b)
		require.NoError(t, err)
	}
	_, err := s.AddBlock(&block.Block{StateHash: "3Nd", ParentHash: "3Nlost", Height: 20})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshots", "state.cbor")
	require.NoError(t, s.SaveSnapshot(path))

	restored, err := FromStateSnapshot(path, s.Store())
	require.NoError(t, err)

	assert.Equal(t, s.BestTip().Block.StateHash, restored.BestTip().Block.StateHash)
	assert.Equal(t, s.CanonicalTip().Block.StateHash, restored.CanonicalTip().Block.StateHash)
	assert.Equal(t, s.BlocksProcessed(), restored.BlocksProcessed())
	assert.Equal(t, s.Witness().DanglingBranches(), restored.Witness().DanglingBranches())

	wantAlice, err := s.Account("alice")
	require.NoError(t, err)
	gotAlice, err := restored.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, wantAlice.Balance, gotAlice.Balance)
	assert.Equal(t, wantAlice.Nonce, gotAlice.Nonce)

	// the restored state keeps indexing where the old one left off
	next := &block.Block{
		StateHash:  "3Nnext",
		ParentHash: "3Nc7",
		Height:     10,
		LedgerDiff: []block.AccountDiff{{Address: "alice", Delta: 1, Nonce: 9}},
	}
	extA, err := s.AddBlock(next)
	require.NoError(t, err)
	extB, err := restored.AddBlock(next)
	require.NoError(t, err)
	assert.Equal(t, extA, extB)
	assert.Equal(t, s.CanonicalTip().Block.StateHash, restored.CanonicalTip().Block.StateHash)
}

func TestSaveSnapshotFailureLeavesStateUsable(t *testing.T) {
	s := newTestState(t)
	for _, b := range testChain(3) {
		_, err := s.AddBlock(b)
		require.NoError(t, err)
	}

	// a directory is not a valid snapshot target
	err := s.SaveSnapshot(t.TempDir())
	require.Error(t, err)

	// state still accepts blocks and answers queries
	_, err = s.AddBlock(&block.Block{StateHash: "3Nmore", ParentHash: "3Nc2", Height: 5})
	require.NoError(t, err)
	assert.Equal(t, "3Nmore", s.BestTip().Block.StateHash)
}
