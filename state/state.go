package state

import (
	"fmt"
	"time"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/config"
	"github.com/treelinehq/treeline/ledger"
	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/store"
	"github.com/treelinehq/treeline/witness"
)

// IndexerState owns the witness tree, the canonical ledger and the
// persistent store. It is mutated by exactly one writer task; every read
// result it hands out is a copy.
type IndexerState struct {
	witness         *witness.Witness
	ledger          *ledger.Ledger
	store           *store.IndexerStore
	initTime        time.Time
	blocksProcessed uint64
	// lastApplied is the canonical block whose ledger diff was folded in
	// last; diffs are applied exactly once, in canonical order.
	lastApplied *block.Block
}

// New creates an indexer state anchored at the configured root with a
// genesis-seeded ledger.
func New(rootHash string, rootHeight uint32, genesis []config.GenesisAccount,
	st *store.IndexerStore, wc witness.Config) (*IndexerState, error) {
	w, err := witness.New(rootHash, rootHeight, wc)
	if err != nil {
		return nil, err
	}
	return &IndexerState{
		witness:     w,
		ledger:      ledger.FromGenesis(genesis),
		store:       st,
		initTime:    time.Now(),
		lastApplied: w.CanonicalTip().Block,
	}, nil
}

func (s *IndexerState) Witness() *witness.Witness { return s.witness }
func (s *IndexerState) Store() *store.IndexerStore {
	return s.store
}

func (s *IndexerState) BestTip() witness.Tip      { return s.witness.BestTip() }
func (s *IndexerState) CanonicalTip() witness.Tip { return s.witness.CanonicalTip() }
func (s *IndexerState) BlocksProcessed() uint64   { return s.blocksProcessed }

// AddBlock persists b, hands it to the witness tree and, when the
// canonical tip advances, folds the newly canonical ledger diffs in.
func (s *IndexerState) AddBlock(b *block.Block) (witness.ExtensionType, error) {
	// persist unconditionally so replay and snapshot restore never depend
	// on what the tree kept
	if err := s.store.PutBlock(b); err != nil {
		return witness.BlockNotAdded, err
	}

	prevCanonical := s.witness.CanonicalTip().Block
	ext, err := s.witness.AddBlock(b)
	if err != nil {
		return ext, err
	}
	if ext == witness.BlockNotAdded {
		// duplicates and stale replays do not count as processed
		return ext, nil
	}
	s.blocksProcessed++

	if err := s.applyCanonicalDiffs(prevCanonical); err != nil {
		// a bad diff must not stall ingestion; the tree stays correct
		logx.Error("STATE", "ledger diff application failed: ", err)
	}
	if err := s.store.SetTips(s.witness.BestTip().Block.StateHash,
		s.witness.CanonicalTip().Block.StateHash); err != nil {
		logx.Error("STATE", "persist tips: ", err)
	}
	return ext, nil
}

// applyCanonicalDiffs applies the diff of every block that became
// canonical since prev, oldest first.
func (s *IndexerState) applyCanonicalDiffs(prev *block.Block) error {
	current := s.witness.CanonicalTip().Block
	if current.StateHash == prev.StateHash {
		return nil
	}

	// walk back from the new canonical tip to the previous one; blocks
	// pruned from the tree are fetched from the store
	newlyCanonical := make([]*block.Block, 0, 8)
	cursor := current
	for cursor.StateHash != prev.StateHash && cursor.Height > prev.Height {
		newlyCanonical = append(newlyCanonical, cursor)
		parent, err := s.lookupBlock(cursor.ParentHash)
		if err != nil {
			return err
		}
		if parent == nil {
			break
		}
		cursor = parent
	}
	if cursor.StateHash != prev.StateHash {
		// the canonical chain moved to a fork that does not descend from
		// the previous canonical tip; heights still only advanced
		logx.Warn("STATE", "canonical chain discontinuity at ", prev.Summary(),
			" -> ", current.Summary())
	}

	touched := make(map[string]struct{})
	for i := len(newlyCanonical) - 1; i >= 0; i-- {
		nb := newlyCanonical[i]
		if err := s.ledger.Apply(nb.StateHash, nb.LedgerDiff); err != nil {
			return err
		}
		for _, d := range nb.LedgerDiff {
			touched[d.Address] = struct{}{}
		}
		s.lastApplied = nb
	}
	s.persistAccounts(touched)
	return nil
}

// persistAccounts writes the ledger entries changed by a canonical advance
// to the store so restarts and external readers see them.
func (s *IndexerState) persistAccounts(touched map[string]struct{}) {
	if len(touched) == 0 {
		return
	}
	accounts := make([]*ledger.Account, 0, len(touched))
	for addr := range touched {
		acc, err := s.ledger.Account(addr)
		if err != nil {
			continue
		}
		accounts = append(accounts, acc)
	}
	if err := s.store.PutAccounts(accounts); err != nil {
		logx.Error("STATE", "persist accounts: ", err)
	}
}

func (s *IndexerState) lookupBlock(stateHash string) (*block.Block, error) {
	if id, ok := s.witness.RootBranch().NodeByHash(stateHash); ok {
		return s.witness.RootBranch().Block(id), nil
	}
	b, err := s.store.GetBlock(stateHash)
	if err != nil {
		return nil, fmt.Errorf("lookup block %s: %w", stateHash, err)
	}
	return b, nil
}

// BestChain returns the best tip and up to n-1 of its ancestors, tip
// first.
func (s *IndexerState) BestChain(n int) []*block.Block {
	if n <= 0 {
		return nil
	}
	br := s.witness.RootBranch()
	return br.Ancestors(s.witness.BestTip().NodeID, n)
}

// Account returns a copy of the ledger entry for addr.
func (s *IndexerState) Account(addr string) (*ledger.Account, error) {
	return s.ledger.Account(addr)
}

// BestLedger returns a copy of all accounts at the canonical tip, ordered
// by address.
func (s *IndexerState) BestLedger() []*ledger.Account {
	return s.ledger.Accounts()
}
