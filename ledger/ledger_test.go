package ledger

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/config"
)

func genesisLedger() *Ledger {
	return FromGenesis([]config.GenesisAccount{
		{Address: "alice", Balance: 1000},
		{Address: "bob", Balance: 50},
	})
}

func TestFromGenesis(t *testing.T) {
	l := genesisLedger()
	require.Equal(t, 2, l.Len())

	acc, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1000), acc.Balance)
	assert.Zero(t, acc.Nonce)

	_, err = l.Account("carol")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestApplyDiff(t *testing.T) {
	l := genesisLedger()
	diff := []block.AccountDiff{
		{Address: "alice", Delta: -300, Nonce: 1},
		{Address: "bob", Delta: 200, Nonce: 0},
		{Address: "carol", Delta: 100, Nonce: 0}, // new account
	}
	require.NoError(t, l.Apply("3Nblock", diff))

	alice, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(700), alice.Balance)
	assert.Equal(t, uint64(1), alice.Nonce)

	bob, err := l.Account("bob")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(250), bob.Balance)

	carol, err := l.Account("carol")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(100), carol.Balance)
}

func TestApplyDelegateChange(t *testing.T) {
	l := genesisLedger()
	require.NoError(t, l.Apply("3Nblock", []block.AccountDiff{
		{Address: "alice", Delta: 0, Nonce: 1, Delegate: "bob"},
	}))
	alice, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", alice.Delegate)

	// a diff without a delegate leaves the current one in place
	require.NoError(t, l.Apply("3Nnext", []block.AccountDiff{
		{Address: "alice", Delta: 10, Nonce: 2},
	}))
	alice, err = l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", alice.Delegate)
}

func TestApplyRejectsUnderflowWithoutMutating(t *testing.T) {
	l := genesisLedger()
	diff := []block.AccountDiff{
		{Address: "alice", Delta: 500, Nonce: 1},
		{Address: "bob", Delta: -5000, Nonce: 2},
	}
	assert.ErrorIs(t, l.Apply("3Nblock", diff), ErrInsufficientBalance)

	// nothing applied, not even the credit that preceded the bad debit
	alice, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1000), alice.Balance)
}

func TestApplyRejectsDebitOfMissingAccount(t *testing.T) {
	l := genesisLedger()
	err := l.Apply("3Nblock", []block.AccountDiff{{Address: "nobody", Delta: -1}})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountsAreSortedCopies(t *testing.T) {
	l := genesisLedger()
	accounts := l.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Address)
	assert.Equal(t, "bob", accounts[1].Address)

	// mutating the copy must not touch the ledger
	accounts[0].Balance.SetUint64(0)
	alice, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1000), alice.Balance)
}
