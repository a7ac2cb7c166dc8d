package state

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/utils"
)

// TipSummary is the wire form of a tree tip.
type TipSummary struct {
	StateHash string `json:"state_hash"`
	Height    uint32 `json:"height"`
}

// Summary reports the indexer's shape. Verbose fields are nil in the short
// form.
type Summary struct {
	UptimeSeconds   float64    `json:"uptime_seconds"`
	BlocksProcessed uint64     `json:"blocks_processed"`
	BestTip         TipSummary `json:"best_tip"`
	CanonicalTip    TipSummary `json:"canonical_tip"`
	Root            TipSummary `json:"root"`

	// verbose only
	RootBranchBlocks  int          `json:"root_branch_blocks,omitempty"`
	DanglingBranches  int          `json:"dangling_branches,omitempty"`
	DanglingRoots     []TipSummary `json:"dangling_roots,omitempty"`
	LedgerAccounts    int          `json:"ledger_accounts,omitempty"`
	ResidentMemBytes  uint64       `json:"resident_mem_bytes,omitempty"`
	WitnessBlocksSeen uint64       `json:"witness_blocks_seen,omitempty"`
}

// SummaryShort reports tips, counts and uptime.
func (s *IndexerState) SummaryShort() Summary {
	rootBlock := s.witness.RootBranch().RootBlock()
	return Summary{
		UptimeSeconds:   utils.SecondsBetween(s.initTime, time.Now()),
		BlocksProcessed: s.blocksProcessed,
		BestTip: TipSummary{
			StateHash: s.witness.BestTip().Block.StateHash,
			Height:    s.witness.BestTip().Block.Height,
		},
		CanonicalTip: TipSummary{
			StateHash: s.witness.CanonicalTip().Block.StateHash,
			Height:    s.witness.CanonicalTip().Block.Height,
		},
		Root: TipSummary{
			StateHash: rootBlock.StateHash,
			Height:    rootBlock.Height,
		},
	}
}

// SummaryVerbose adds tree shape, ledger size and process memory.
func (s *IndexerState) SummaryVerbose() Summary {
	summary := s.SummaryShort()
	summary.RootBranchBlocks = s.witness.RootBranch().Len()
	summary.DanglingBranches = s.witness.DanglingBranches()
	for _, d := range s.witness.Dangling() {
		summary.DanglingRoots = append(summary.DanglingRoots, TipSummary{
			StateHash: d.RootBlock().StateHash,
			Height:    d.RootBlock().Height,
		})
	}
	summary.LedgerAccounts = s.ledger.Len()
	summary.WitnessBlocksSeen = s.witness.BlocksAdded()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			summary.ResidentMemBytes = mem.RSS
		}
	} else {
		logx.Debug("STATE", "process memory unavailable: ", err)
	}
	return summary
}
