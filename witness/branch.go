package witness

import (
	"fmt"
	"time"

	"github.com/treelinehq/treeline/block"
)

// NodeID addresses a node inside one Branch's arena. IDs are stable for the
// lifetime of the branch but are remapped by pruning and merging, so they
// must never be held across those operations.
type NodeID int

const InvalidNode NodeID = -1

type node struct {
	block    *block.Block
	parent   NodeID
	children []NodeID // insertion order, drives fork-choice tie-break
}

// Branch is an ordered tree of blocks sharing a common ancestor. Nodes live
// in an append-only arena; parent/child links are arena indices, which keeps
// subtree splicing an O(children) reparent instead of a deep copy.
//
// Branch has no internal locking: the witness single-writer rule is the only
// thing keeping it safe.
type Branch struct {
	nodes   []node
	root    NodeID
	byHash  map[string]NodeID
	created time.Time
}

// NewBranch creates a branch containing only b.
func NewBranch(b *block.Block) *Branch {
	br := &Branch{
		byHash:  make(map[string]NodeID),
		created: time.Now(),
	}
	br.root = br.addNode(b, InvalidNode)
	return br
}

func (br *Branch) addNode(b *block.Block, parent NodeID) NodeID {
	id := NodeID(len(br.nodes))
	br.nodes = append(br.nodes, node{block: b, parent: parent})
	br.byHash[b.StateHash] = id
	if parent != InvalidNode {
		br.nodes[parent].children = append(br.nodes[parent].children, id)
	}
	return id
}

// Len returns the number of blocks held by the branch.
func (br *Branch) Len() int {
	return len(br.nodes)
}

// Has reports whether a block with the given state hash is in the branch.
func (br *Branch) Has(stateHash string) bool {
	_, ok := br.byHash[stateHash]
	return ok
}

// NodeByHash looks up the node holding the block with the given state hash.
func (br *Branch) NodeByHash(stateHash string) (NodeID, bool) {
	id, ok := br.byHash[stateHash]
	return id, ok
}

// Block returns the block held at id.
func (br *Branch) Block(id NodeID) *block.Block {
	return br.nodes[id].block
}

// Parent returns the tree-parent of id, or InvalidNode for the root.
func (br *Branch) Parent(id NodeID) NodeID {
	return br.nodes[id].parent
}

// RootBlock returns the block at the branch root.
func (br *Branch) RootBlock() *block.Block {
	return br.nodes[br.root].block
}

// Extension attaches b as a child of the node holding b's parent. It
// returns InvalidNode and false when no node in this branch carries the
// parent hash; the caller decides what that means.
func (br *Branch) Extension(b *block.Block) (NodeID, bool) {
	parent, ok := br.byHash[b.ParentHash]
	if !ok {
		return InvalidNode, false
	}
	return br.addNode(b, parent), true
}

// Reroot installs b as the new root with the current root as its sole
// child. Only valid when b is the true parent of the current root; used on
// dangling branches growing backward toward their connection point.
func (br *Branch) Reroot(b *block.Block) (NodeID, error) {
	if br.RootBlock().ParentHash != b.StateHash {
		return InvalidNode, fmt.Errorf("block %s is not the parent of branch root %s",
			b.StateHash, br.RootBlock().StateHash)
	}
	id := NodeID(len(br.nodes))
	br.nodes = append(br.nodes, node{block: b, parent: InvalidNode, children: []NodeID{br.root}})
	br.byHash[b.StateHash] = id
	br.nodes[br.root].parent = id
	br.root = id
	return id, nil
}

// MergeOn splices other's entire tree in as a child subtree of target.
// other's root block must name the target block as its parent. other is
// consumed and must not be used afterwards.
func (br *Branch) MergeOn(target NodeID, other *Branch) error {
	if other.RootBlock().ParentHash != br.nodes[target].block.StateHash {
		return fmt.Errorf("branch rooted at %s does not attach to %s",
			other.RootBlock().StateHash, br.nodes[target].block.StateHash)
	}

	// Walk the other arena in insertion order so tie-break behavior of the
	// merged nodes survives the splice.
	remap := make([]NodeID, len(other.nodes))
	order := other.insertionOrder()
	for _, oid := range order {
		on := other.nodes[oid]
		var parent NodeID
		if oid == other.root {
			parent = target
		} else {
			parent = remap[on.parent]
		}
		remap[oid] = br.addNode(on.block, parent)
	}
	other.nodes = nil
	other.byHash = nil
	return nil
}

// insertionOrder yields node ids root-first in arena (insertion) order.
// After a reroot the root sits later in the arena than its children, so a
// plain arena scan is not parent-before-child; this is.
func (br *Branch) insertionOrder() []NodeID {
	order := make([]NodeID, 0, len(br.nodes))
	emitted := make([]bool, len(br.nodes))
	order = append(order, br.root)
	emitted[br.root] = true
	for i := 0; i < len(order); i++ {
		// pick up, in arena order, every node whose parent is emitted
		for id := range br.nodes {
			nid := NodeID(id)
			if emitted[id] || br.nodes[id].parent == InvalidNode {
				continue
			}
			if emitted[br.nodes[id].parent] {
				order = append(order, nid)
				emitted[id] = true
			}
		}
	}
	return order
}

// BestTip returns the node with the greatest height. Ties go to the
// earliest-inserted node so fork choice stays deterministic under replay.
func (br *Branch) BestTip() (NodeID, *block.Block) {
	best := NodeID(0)
	for id := range br.nodes {
		if br.nodes[id].block.Height > br.nodes[best].block.Height {
			best = NodeID(id)
		}
	}
	return best, br.nodes[best].block
}

// BestTipBlock returns the block at the best tip.
func (br *Branch) BestTipBlock() *block.Block {
	_, b := br.BestTip()
	return b
}

// CanonicalTip walks threshold parent edges up from the best tip. It
// reports false when the branch is not yet that deep.
func (br *Branch) CanonicalTip(threshold uint32) (NodeID, *block.Block, bool) {
	id, _ := br.BestTip()
	for i := uint32(0); i < threshold; i++ {
		parent := br.nodes[id].parent
		if parent == InvalidNode {
			return InvalidNode, nil, false
		}
		id = parent
	}
	return id, br.nodes[id].block, true
}

// Ancestors returns up to n blocks starting at id and walking rootward,
// tip first.
func (br *Branch) Ancestors(id NodeID, n int) []*block.Block {
	out := make([]*block.Block, 0, n)
	for id != InvalidNode && len(out) < n {
		out = append(out, br.nodes[id].block)
		id = br.nodes[id].parent
	}
	return out
}

// PruneTo rebuilds the branch as the subtree rooted at newRoot, dropping
// everything outside it. Relative insertion order of the survivors is
// preserved. Returns the number of discarded nodes.
func (br *Branch) PruneTo(newRoot NodeID) int {
	keep := make([]bool, len(br.nodes))
	br.markSubtree(newRoot, keep)

	oldNodes := br.nodes
	dropped := 0
	remap := make([]NodeID, len(oldNodes))
	br.nodes = make([]node, 0, len(oldNodes))
	br.byHash = make(map[string]NodeID, len(oldNodes))
	for id := range oldNodes {
		if !keep[id] {
			remap[id] = InvalidNode
			dropped++
			continue
		}
		nid := NodeID(len(br.nodes))
		br.nodes = append(br.nodes, node{block: oldNodes[id].block})
		br.byHash[oldNodes[id].block.StateHash] = nid
		remap[id] = nid
	}
	for id := range oldNodes {
		if remap[id] == InvalidNode {
			continue
		}
		nid := remap[id]
		if NodeID(id) == newRoot {
			br.nodes[nid].parent = InvalidNode
			br.root = nid
			continue
		}
		parent := remap[oldNodes[id].parent]
		br.nodes[nid].parent = parent
		br.nodes[parent].children = append(br.nodes[parent].children, nid)
	}
	return dropped
}

func (br *Branch) markSubtree(id NodeID, keep []bool) {
	keep[id] = true
	for _, child := range br.nodes[id].children {
		br.markSubtree(child, keep)
	}
}
