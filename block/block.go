package block

import (
	"time"

	"github.com/treelinehq/treeline/utils"
)

// RootParentSentinel marks the parent of the configured root block. The
// witness tree never resolves it; a block carrying it can only ever be a
// tree root.
const RootParentSentinel = "3NUnknownParent"

// AccountDiff is one entry of a block's ledger diff: the balance delta,
// resulting nonce and optional delegate change for a single account once
// the block becomes canonical.
type AccountDiff struct {
	Address  string `json:"address"`
	Delta    int64  `json:"delta"`
	Nonce    uint64 `json:"nonce"`
	Delegate string `json:"delegate,omitempty"`
}

// Block is the parsed, immutable record of one chain block. Height comes
// from untrusted input: it is expected to be parent height + 1 but the
// witness tree must not assume that holds before the block is attached.
type Block struct {
	StateHash  string        `json:"state_hash"`
	ParentHash string        `json:"parent_hash"`
	Height     uint32        `json:"height"`
	Timestamp  time.Time     `json:"timestamp"`
	LedgerDiff []AccountDiff `json:"ledger_diff,omitempty"`

	// Raw carries the original file bytes; persisted unconditionally so
	// snapshot restore and best_chain queries never depend on tree state.
	Raw []byte `json:"-"`
}

// NewRootAnchor builds the synthetic block anchoring a fresh witness tree
// at the configured root hash.
func NewRootAnchor(stateHash string, height uint32) *Block {
	return &Block{
		StateHash:  stateHash,
		ParentHash: RootParentSentinel,
		Height:     height,
	}
}

func (b *Block) Summary() string {
	return utils.ShortenLog(b.StateHash)
}
