package witness

import (
	"errors"
	"fmt"
	"time"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/monitoring"
	"github.com/treelinehq/treeline/utils"
)

// ErrInvariantViolation marks an AddBlock run that reached a state the
// placement algorithm is defined to make unreachable. It is fatal: the tree
// can no longer be trusted.
var ErrInvariantViolation = errors.New("witness tree invariant violation")

// Tip points at a block inside the root branch.
type Tip struct {
	NodeID NodeID
	Block  *block.Block
}

// Witness is the fork-choice structure: one root branch anchored at the
// configured root hash plus the dangling branches whose connection back to
// the root is not yet known. It is mutated exclusively through AddBlock by
// a single writer; there is no internal locking.
type Witness struct {
	config       Config
	rootBranch   *Branch
	dangling     []*Branch
	bestTip      Tip
	canonicalTip Tip
	blocksAdded  uint64
}

// New creates a witness anchored at rootHash. rootHeight is the height the
// anchor block is known to have (1 for genesis).
func New(rootHash string, rootHeight uint32, config Config) (*Witness, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rootBranch := NewBranch(block.NewRootAnchor(rootHash, rootHeight))
	w := &Witness{
		config:     config,
		rootBranch: rootBranch,
	}
	w.bestTip = w.tipOf(rootBranch.BestTip())
	if id, b, ok := rootBranch.CanonicalTip(config.CanonicalUpdateThreshold); ok {
		w.canonicalTip = Tip{NodeID: id, Block: b}
	} else {
		w.canonicalTip = w.bestTip
	}
	return w, nil
}

func (w *Witness) tipOf(id NodeID, b *block.Block) Tip {
	return Tip{NodeID: id, Block: b}
}

func (w *Witness) Config() Config        { return w.config }
func (w *Witness) BestTip() Tip          { return w.bestTip }
func (w *Witness) CanonicalTip() Tip     { return w.canonicalTip }
func (w *Witness) RootBranch() *Branch   { return w.rootBranch }
func (w *Witness) Dangling() []*Branch   { return w.dangling }
func (w *Witness) BlocksAdded() uint64   { return w.blocksAdded }
func (w *Witness) DanglingBranches() int { return len(w.dangling) }

// Contains reports whether a block with the given state hash is anywhere in
// the tree, root branch or dangling.
func (w *Witness) Contains(stateHash string) bool {
	if w.rootBranch.Has(stateHash) {
		return true
	}
	for _, d := range w.dangling {
		if d.Has(stateHash) {
			return true
		}
	}
	return false
}

// AddBlock places b in the witness tree. The algorithm is total: every
// block reaches exactly one ExtensionType. A non-nil error means the tree
// itself is broken and the caller must stop feeding it.
func (w *Witness) AddBlock(b *block.Block) (ExtensionType, error) {
	// re-adding an incorporated block leaves the tree untouched
	if w.Contains(b.StateHash) {
		logx.Debug("WITNESS", "block ", b.Summary(), " already incorporated")
		return BlockNotAdded, nil
	}

	// blocks at or below the root height are behind the prunable frontier:
	// stale replays or hostile input, either way unplaceable
	if b.Height <= w.rootBranch.RootBlock().Height {
		logx.Debug("WITNESS", "block ", b.Summary(), " height ", b.Height,
			" is below the witness root ", w.rootBranch.RootBlock().Height)
		return BlockNotAdded, nil
	}

	result, err := w.placeBlock(b)
	if err != nil {
		return BlockNotAdded, err
	}

	w.blocksAdded++
	w.updateCanonicalTip()
	if w.blocksAdded%uint64(w.config.PruneInterval) == 0 {
		w.prune()
	}
	w.evictStaleDangling()

	monitoring.IncreaseBlocksProcessed()
	monitoring.RecordExtensionResult(result.String())
	monitoring.SetBestTipHeight(w.bestTip.Block.Height)
	monitoring.SetCanonicalTipHeight(w.canonicalTip.Block.Height)
	monitoring.SetDanglingBranchCount(len(w.dangling))
	return result, nil
}

func (w *Witness) placeBlock(b *block.Block) (ExtensionType, error) {
	// root-branch attempt
	if w.rootBranch.Has(b.ParentHash) {
		if _, ok := w.rootBranch.Extension(b); !ok {
			return BlockNotAdded, fmt.Errorf("%w: root branch holds %s but refused extension by %s",
				ErrInvariantViolation, b.ParentHash, b.StateHash)
		}
		w.bestTip = w.tipOf(w.rootBranch.BestTip())
		merged, err := w.mergeDanglingIntoRoot()
		if err != nil {
			return BlockNotAdded, err
		}
		if merged {
			return RootComplex, nil
		}
		return RootSimple, nil
	}

	// dangling-branch attempt, branches scanned in insertion order
	result := ExtensionType(0)
	placed := false
	for _, d := range w.dangling {
		if d.Has(b.ParentHash) {
			// forward extension
			if _, ok := d.Extension(b); !ok {
				return BlockNotAdded, fmt.Errorf("%w: dangling branch holds %s but refused extension by %s",
					ErrInvariantViolation, b.ParentHash, b.StateHash)
			}
			result, placed = DanglingExtended, true
			break
		}
		if d.RootBlock().ParentHash == b.StateHash {
			// reverse extension: b is the missing ancestor of this branch
			if _, err := d.Reroot(b); err != nil {
				return BlockNotAdded, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			}
			result, placed = DanglingExtended, true
			break
		}
	}
	if !placed {
		w.dangling = append(w.dangling, NewBranch(b))
		result = DanglingNew
	}

	// chains of orphans may connect to each other now
	crossMerged, err := w.mergeDanglingIntoDangling()
	if err != nil {
		return BlockNotAdded, err
	}
	if crossMerged {
		result = DanglingMerged
	}

	// a reverse extension or cross merge may have exposed a connection
	// back to the root branch
	rootMerged, err := w.mergeDanglingIntoRoot()
	if err != nil {
		return BlockNotAdded, err
	}
	if rootMerged {
		w.bestTip = w.tipOf(w.rootBranch.BestTip())
		return RootComplex, nil
	}
	return result, nil
}

// mergeDanglingIntoRoot splices every dangling branch whose root's parent
// is now present in the root branch, repeating until a full pass finds no
// match so arbitrarily long orphan chains connect in one sweep.
func (w *Witness) mergeDanglingIntoRoot() (bool, error) {
	merged := false
	for {
		progress := false
		for i, d := range w.dangling {
			target, ok := w.rootBranch.NodeByHash(d.RootBlock().ParentHash)
			if !ok {
				continue
			}
			if err := w.rootBranch.MergeOn(target, d); err != nil {
				return merged, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			}
			w.dangling = append(w.dangling[:i], w.dangling[i+1:]...)
			progress = true
			merged = true
			break
		}
		if !progress {
			break
		}
	}
	if merged {
		w.bestTip = w.tipOf(w.rootBranch.BestTip())
	}
	return merged, nil
}

// mergeDanglingIntoDangling splices dangling branches into each other
// wherever one branch's root names a node of another as parent, to a fixed
// point.
func (w *Witness) mergeDanglingIntoDangling() (bool, error) {
	merged := false
	for {
		progress := false
	scan:
		for i, d := range w.dangling {
			for j, host := range w.dangling {
				if i == j {
					continue
				}
				target, ok := host.NodeByHash(d.RootBlock().ParentHash)
				if !ok {
					continue
				}
				if err := host.MergeOn(target, d); err != nil {
					return merged, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
				}
				w.dangling = append(w.dangling[:i], w.dangling[i+1:]...)
				progress = true
				merged = true
				break scan
			}
		}
		if !progress {
			break
		}
	}
	return merged, nil
}

// updateCanonicalTip recomputes the canonical tip under the monotonicity
// rule: it only ever advances.
func (w *Witness) updateCanonicalTip() {
	id, b, ok := w.rootBranch.CanonicalTip(w.config.CanonicalUpdateThreshold)
	if !ok {
		// branch not deep enough yet; repair the node id in case the best
		// tip moved under the current canonical block
		w.refreshCanonicalNodeID()
		return
	}
	if b.Height <= w.canonicalTip.Block.Height && b.StateHash != w.canonicalTip.Block.StateHash {
		return
	}
	w.canonicalTip = Tip{NodeID: id, Block: b}
}

// refreshCanonicalNodeID re-resolves the canonical tip's node id after
// operations that remap arena ids.
func (w *Witness) refreshCanonicalNodeID() {
	if id, ok := w.rootBranch.NodeByHash(w.canonicalTip.Block.StateHash); ok {
		w.canonicalTip.NodeID = id
	}
}

// prune drops root-branch nodes that can no longer matter: everything
// outside the subtree rooted TransitionFrontierK blocks below the canonical
// tip. Dangling branches are untouched here; eviction handles those.
func (w *Witness) prune() {
	canonicalID, ok := w.rootBranch.NodeByHash(w.canonicalTip.Block.StateHash)
	if !ok {
		// canonical tip not in the root branch would be a serious bug, but
		// pruning is an optimization and must not take the witness down
		logx.Error("WITNESS", "canonical tip ", w.canonicalTip.Block.Summary(), " missing from root branch, skipping prune")
		return
	}

	frontier := canonicalID
	for i := uint32(0); i < w.config.TransitionFrontierK; i++ {
		parent := w.rootBranch.Parent(frontier)
		if parent == InvalidNode {
			break
		}
		frontier = parent
	}
	if frontier == w.rootBranch.root {
		return
	}

	dropped := w.rootBranch.PruneTo(frontier)
	w.bestTip = w.tipOf(w.rootBranch.BestTip())
	w.refreshCanonicalNodeID()
	logx.Debug("WITNESS", "pruned ", dropped, " blocks below ",
		utils.ShortenLog(w.rootBranch.RootBlock().StateHash))
}

// evictStaleDangling enforces the orphan bounds: oldest branches go first
// when there are too many, and any branch dangling longer than the age
// bound goes regardless. Eviction is a recoverable event, not an error.
func (w *Witness) evictStaleDangling() {
	if w.config.MaxDanglingAge > 0 {
		cutoff := time.Now().Add(-w.config.MaxDanglingAge)
		kept := w.dangling[:0]
		for _, d := range w.dangling {
			if d.created.Before(cutoff) {
				w.evict(d, "age bound exceeded")
				continue
			}
			kept = append(kept, d)
		}
		w.dangling = kept
	}

	if w.config.MaxDanglingBranches <= 0 {
		return
	}
	for len(w.dangling) > w.config.MaxDanglingBranches {
		oldest := 0
		for i, d := range w.dangling {
			if d.created.Before(w.dangling[oldest].created) {
				oldest = i
			}
		}
		w.evict(w.dangling[oldest], "branch count bound exceeded")
		w.dangling = append(w.dangling[:oldest], w.dangling[oldest+1:]...)
	}
}

func (w *Witness) evict(d *Branch, reason string) {
	monitoring.IncreaseDanglingEvicted()
	logx.Warn("WITNESS", "evicting dangling branch rooted at ",
		d.RootBlock().Summary(), " (", d.Len(), " blocks): ", reason)
}
