package witness

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/treelinehq/treeline/block"
)

// Snapshot image of the witness tree. Branches are stored in arena order
// with parent links as indices, so a restore rebuilds byte-identical fork
// choice behavior (tie-breaks included).

type branchImage struct {
	Blocks  []*block.Block `cbor:"1,keyasint"`
	Parents []int          `cbor:"2,keyasint"`
	Root    int            `cbor:"3,keyasint"`
	Created int64          `cbor:"4,keyasint"`
}

type snapshotImage struct {
	Config       Config        `cbor:"1,keyasint"`
	RootBranch   branchImage   `cbor:"2,keyasint"`
	Dangling     []branchImage `cbor:"3,keyasint"`
	BestTip      string        `cbor:"4,keyasint"`
	CanonicalTip string        `cbor:"5,keyasint"`
	BlocksAdded  uint64        `cbor:"6,keyasint"`
}

func imageOf(br *Branch) branchImage {
	img := branchImage{
		Blocks:  make([]*block.Block, len(br.nodes)),
		Parents: make([]int, len(br.nodes)),
		Root:    int(br.root),
		Created: br.created.Unix(),
	}
	for id := range br.nodes {
		img.Blocks[id] = br.nodes[id].block
		img.Parents[id] = int(br.nodes[id].parent)
	}
	return img
}

func (img branchImage) restore() (*Branch, error) {
	if len(img.Blocks) == 0 || len(img.Blocks) != len(img.Parents) {
		return nil, fmt.Errorf("branch image is malformed: %d blocks, %d parents",
			len(img.Blocks), len(img.Parents))
	}
	if img.Root < 0 || img.Root >= len(img.Blocks) {
		return nil, fmt.Errorf("branch image root %d out of range", img.Root)
	}
	br := &Branch{
		nodes:   make([]node, len(img.Blocks)),
		root:    NodeID(img.Root),
		byHash:  make(map[string]NodeID, len(img.Blocks)),
		created: time.Unix(img.Created, 0),
	}
	for id, b := range img.Blocks {
		if b == nil {
			return nil, fmt.Errorf("branch image block %d is missing", id)
		}
		parent := NodeID(img.Parents[id])
		if parent != InvalidNode {
			if parent < 0 || int(parent) >= len(img.Blocks) {
				return nil, fmt.Errorf("branch image parent %d out of range", parent)
			}
			if img.Blocks[parent].StateHash != b.ParentHash {
				return nil, fmt.Errorf("branch image block %s does not descend from %s",
					b.StateHash, img.Blocks[parent].StateHash)
			}
		} else if NodeID(id) != br.root {
			return nil, fmt.Errorf("branch image has a second root at %d", id)
		}
		br.nodes[id] = node{block: b, parent: parent}
		br.byHash[b.StateHash] = NodeID(id)
		if parent != InvalidNode {
			br.nodes[parent].children = append(br.nodes[parent].children, NodeID(id))
		}
	}
	return br, nil
}

// WriteSnapshot serializes the full tree state to out. It reads the witness
// without mutating it, so a failed write leaves nothing to undo.
func (w *Witness) WriteSnapshot(out io.Writer) error {
	img := snapshotImage{
		Config:       w.config,
		RootBranch:   imageOf(w.rootBranch),
		Dangling:     make([]branchImage, len(w.dangling)),
		BestTip:      w.bestTip.Block.StateHash,
		CanonicalTip: w.canonicalTip.Block.StateHash,
		BlocksAdded:  w.blocksAdded,
	}
	for i, d := range w.dangling {
		img.Dangling[i] = imageOf(d)
	}
	enc := cbor.NewEncoder(out)
	if err := enc.Encode(&img); err != nil {
		return fmt.Errorf("encode witness snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot reconstructs a witness from a snapshot written by
// WriteSnapshot. The image is validated in full before anything is
// returned, so a corrupt snapshot never yields a half-built tree.
func ReadSnapshot(in io.Reader) (*Witness, error) {
	var img snapshotImage
	dec := cbor.NewDecoder(in)
	if err := dec.Decode(&img); err != nil {
		return nil, fmt.Errorf("decode witness snapshot: %w", err)
	}
	if err := img.Config.Validate(); err != nil {
		return nil, fmt.Errorf("witness snapshot config: %w", err)
	}

	rootBranch, err := img.RootBranch.restore()
	if err != nil {
		return nil, fmt.Errorf("witness snapshot root branch: %w", err)
	}
	w := &Witness{
		config:      img.Config,
		rootBranch:  rootBranch,
		blocksAdded: img.BlocksAdded,
	}
	for i, di := range img.Dangling {
		d, err := di.restore()
		if err != nil {
			return nil, fmt.Errorf("witness snapshot dangling branch %d: %w", i, err)
		}
		w.dangling = append(w.dangling, d)
	}

	bestID, ok := rootBranch.NodeByHash(img.BestTip)
	if !ok {
		return nil, fmt.Errorf("witness snapshot best tip %s not in root branch", img.BestTip)
	}
	w.bestTip = Tip{NodeID: bestID, Block: rootBranch.Block(bestID)}
	canonicalID, ok := rootBranch.NodeByHash(img.CanonicalTip)
	if !ok {
		return nil, fmt.Errorf("witness snapshot canonical tip %s not in root branch", img.CanonicalTip)
	}
	w.canonicalTip = Tip{NodeID: canonicalID, Block: rootBranch.Block(canonicalID)}
	return w, nil
}
