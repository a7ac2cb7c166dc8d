package state

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"

	"github.com/treelinehq/treeline/ledger"
	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/store"
	"github.com/treelinehq/treeline/witness"
)

// snapshotAccount is the frozen wire form of one ledger entry.
type snapshotAccount struct {
	Address  string `cbor:"1,keyasint"`
	Balance  []byte `cbor:"2,keyasint"`
	Nonce    uint64 `cbor:"3,keyasint"`
	Delegate string `cbor:"4,keyasint,omitempty"`
}

type stateSnapshot struct {
	Witness         []byte            `cbor:"1,keyasint"`
	Accounts        []snapshotAccount `cbor:"2,keyasint"`
	BlocksProcessed uint64            `cbor:"3,keyasint"`
	LastApplied     string            `cbor:"4,keyasint"`
	SavedAtUnix     int64             `cbor:"5,keyasint"`
}

// SaveSnapshot writes a restorable image of the witness tree, ledger and
// counters to path. The file is written to a temp sibling and renamed in,
// and the in-memory state is only ever read, so a failed save changes
// nothing anywhere.
func (s *IndexerState) SaveSnapshot(path string) error {
	var tree bytes.Buffer
	if err := s.witness.WriteSnapshot(&tree); err != nil {
		return err
	}

	accounts := s.ledger.Accounts()
	snap := stateSnapshot{
		Witness:         tree.Bytes(),
		Accounts:        make([]snapshotAccount, len(accounts)),
		BlocksProcessed: s.blocksProcessed,
		LastApplied:     s.lastApplied.StateHash,
		SavedAtUnix:     time.Now().Unix(),
	}
	for i, acc := range accounts {
		snap.Accounts[i] = snapshotAccount{
			Address:  acc.Address,
			Balance:  acc.Balance.Bytes(),
			Nonce:    acc.Nonce,
			Delegate: acc.Delegate,
		}
	}

	data, err := cbor.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit snapshot file: %w", err)
	}
	logx.Info("STATE", "saved snapshot to ", path, " (", len(data), " bytes)")
	return nil
}

// FromStateSnapshot rebuilds an IndexerState from a snapshot file and the
// persistent store, skipping replay from genesis.
func FromStateSnapshot(path string, st *store.IndexerStore) (*IndexerState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap stateSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}

	w, err := witness.ReadSnapshot(bytes.NewReader(snap.Witness))
	if err != nil {
		return nil, err
	}

	genesis := make([]ledgerSeed, 0, len(snap.Accounts))
	for _, acc := range snap.Accounts {
		genesis = append(genesis, ledgerSeed{
			address:  acc.Address,
			balance:  new(uint256.Int).SetBytes(acc.Balance),
			nonce:    acc.Nonce,
			delegate: acc.Delegate,
		})
	}

	s := &IndexerState{
		witness:         w,
		ledger:          seedLedger(genesis),
		store:           st,
		initTime:        time.Now(),
		blocksProcessed: snap.BlocksProcessed,
	}
	if snap.LastApplied != "" {
		if b, err := s.lookupBlock(snap.LastApplied); err == nil && b != nil {
			s.lastApplied = b
		}
	}
	if s.lastApplied == nil {
		s.lastApplied = w.CanonicalTip().Block
	}
	logx.Info("STATE", "restored snapshot from ", path,
		": best=", w.BestTip().Block.Summary(),
		" canonical=", w.CanonicalTip().Block.Summary())
	return s, nil
}

type ledgerSeed struct {
	address  string
	balance  *uint256.Int
	nonce    uint64
	delegate string
}

func seedLedger(seeds []ledgerSeed) *ledger.Ledger {
	l := ledger.NewLedger()
	for _, seed := range seeds {
		l.Restore(seed.address, seed.balance, seed.nonce, seed.delegate)
	}
	return l
}
