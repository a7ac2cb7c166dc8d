package store

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/ledger"
)

func openTestStore(t *testing.T) *IndexerStore {
	t.Helper()
	st, err := NewIndexerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPutGetBlock(t *testing.T) {
	st := openTestStore(t)
	b := &block.Block{
		StateHash:  "3Nabc",
		ParentHash: "3Nparent",
		Height:     12,
		LedgerDiff: []block.AccountDiff{{Address: "alice", Delta: 5}},
	}
	require.NoError(t, st.PutBlock(b))

	got, err := st.GetBlock("3Nabc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.StateHash, got.StateHash)
	assert.Equal(t, b.ParentHash, got.ParentHash)
	assert.Equal(t, b.Height, got.Height)
	assert.Equal(t, b.LedgerDiff, got.LedgerDiff)

	missing, err := st.GetBlock("3Nmissing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	has, err := st.HasBlock("3Nabc")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPutBlockIdempotent(t *testing.T) {
	st := openTestStore(t)
	b := &block.Block{StateHash: "3Nabc", ParentHash: "3Nparent", Height: 12}
	require.NoError(t, st.PutBlock(b))
	require.NoError(t, st.PutBlock(b))

	got, err := st.GetBlock("3Nabc")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), got.Height)
}

func TestReadOnlyHandleSeesWriterData(t *testing.T) {
	st := openTestStore(t)
	ro := st.ReadOnly()

	require.NoError(t, st.PutBlock(&block.Block{StateHash: "3Nabc", ParentHash: "3Np", Height: 3}))
	require.NoError(t, st.SetTips("3Nabc", "3Np"))

	got, err := ro.GetBlock("3Nabc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint32(3), got.Height)

	canonical, err := ro.CanonicalTipHash()
	require.NoError(t, err)
	assert.Equal(t, "3Np", canonical)
}

func TestPutGetAccounts(t *testing.T) {
	st := openTestStore(t)

	accounts := []*ledger.Account{
		{Address: "alice", Balance: uint256.NewInt(700), Nonce: 3, Delegate: "bob"},
		{Address: "bob", Balance: uint256.NewInt(250), Nonce: 1},
	}
	require.NoError(t, st.PutAccounts(accounts))

	alice, err := st.GetAccount("alice")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, uint256.NewInt(700), alice.Balance)
	assert.Equal(t, uint64(3), alice.Nonce)
	assert.Equal(t, "bob", alice.Delegate)

	missing, err := st.GetAccount("carol")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// later writes replace earlier values
	require.NoError(t, st.PutAccounts([]*ledger.Account{
		{Address: "alice", Balance: uint256.NewInt(900), Nonce: 4, Delegate: "bob"},
	}))
	alice, err = st.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(900), alice.Balance)
}

func TestAccountsWalksTheMirror(t *testing.T) {
	st := openTestStore(t)

	// a block under another prefix must not leak into the account walk
	require.NoError(t, st.PutBlock(&block.Block{StateHash: "3Nabc", ParentHash: "3Np", Height: 3}))
	require.NoError(t, st.PutAccounts([]*ledger.Account{
		{Address: "carol", Balance: uint256.NewInt(5), Nonce: 2},
		{Address: "alice", Balance: uint256.NewInt(700), Nonce: 3, Delegate: "bob"},
	}))

	accounts, err := st.Accounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Address)
	assert.Equal(t, "bob", accounts[0].Delegate)
	assert.Equal(t, "carol", accounts[1].Address)
	assert.Equal(t, uint256.NewInt(5), accounts[1].Balance)
}

func TestIteratePrefix(t *testing.T) {
	provider, err := NewLevelDBProvider(t.TempDir())
	require.NoError(t, err)
	defer provider.Close()

	require.NoError(t, provider.Put([]byte("a:1"), []byte("x")))
	require.NoError(t, provider.Put([]byte("a:2"), []byte("y")))
	require.NoError(t, provider.Put([]byte("b:1"), []byte("z")))

	var keys []string
	require.NoError(t, provider.IteratePrefix([]byte("a:"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	assert.Equal(t, []string{"a:1", "a:2"}, keys)
}
