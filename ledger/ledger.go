package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/config"
	"github.com/treelinehq/treeline/logx"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Account is one ledger entry.
type Account struct {
	Address  string       `json:"address"`
	Balance  *uint256.Int `json:"balance"`
	Nonce    uint64       `json:"nonce"`
	Delegate string       `json:"delegate,omitempty"`
}

func (a *Account) clone() *Account {
	return &Account{Address: a.Address, Balance: a.Balance.Clone(), Nonce: a.Nonce, Delegate: a.Delegate}
}

// Ledger is the account state at the canonical tip. It is owned by the
// single writer task; no internal locking. Readers only ever see copies.
type Ledger struct {
	accounts map[string]*Account
}

func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*Account)}
}

// FromGenesis seeds a ledger with the configured genesis accounts.
func FromGenesis(accounts []config.GenesisAccount) *Ledger {
	l := NewLedger()
	for _, ga := range accounts {
		l.accounts[ga.Address] = &Account{
			Address:  ga.Address,
			Balance:  uint256.NewInt(ga.Balance),
			Delegate: ga.Delegate,
		}
	}
	return l
}

// Account returns a copy of the account for addr.
func (l *Ledger) Account(addr string) (*Account, error) {
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.clone(), nil
}

func (l *Ledger) Len() int {
	return len(l.accounts)
}

// Apply folds one block's ledger diff into the account state. The diff is
// opaque input: balance deltas and resulting nonces computed upstream. A
// negative delta that underflows is rejected and leaves the ledger
// untouched.
func (l *Ledger) Apply(stateHash string, diff []block.AccountDiff) error {
	// validate before mutating so a bad diff cannot half-apply
	for _, d := range diff {
		if d.Delta >= 0 {
			continue
		}
		acc, ok := l.accounts[d.Address]
		if !ok {
			return fmt.Errorf("%w: %s debited by block %s", ErrAccountNotFound, d.Address, stateHash)
		}
		debit := uint256.NewInt(uint64(-d.Delta))
		if acc.Balance.Lt(debit) {
			return fmt.Errorf("%w: %s debited %d by block %s", ErrInsufficientBalance,
				d.Address, -d.Delta, stateHash)
		}
	}

	for _, d := range diff {
		acc, ok := l.accounts[d.Address]
		if !ok {
			acc = &Account{Address: d.Address, Balance: uint256.NewInt(0)}
			l.accounts[d.Address] = acc
		}
		if d.Delta >= 0 {
			acc.Balance.Add(acc.Balance, uint256.NewInt(uint64(d.Delta)))
		} else {
			acc.Balance.Sub(acc.Balance, uint256.NewInt(uint64(-d.Delta)))
		}
		acc.Nonce = d.Nonce
		if d.Delegate != "" {
			acc.Delegate = d.Delegate
		}
	}
	logx.Debug("LEDGER", "applied diff of block ", stateHash, " (", len(diff), " accounts)")
	return nil
}

// Restore installs an account verbatim; used by snapshot recovery.
func (l *Ledger) Restore(addr string, balance *uint256.Int, nonce uint64, delegate string) {
	l.accounts[addr] = &Account{Address: addr, Balance: balance, Nonce: nonce, Delegate: delegate}
}

// Accounts returns copies of all accounts ordered by address, so ledger
// dumps are deterministic.
func (l *Ledger) Accounts() []*Account {
	out := make([]*Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, acc.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
