package witness

// ExtensionType reports how AddBlock placed a block in the tree. Every
// accepted block maps to exactly one of these.
type ExtensionType int

const (
	// BlockNotAdded: the block is below the prunable frontier or already
	// incorporated; the tree was not modified.
	BlockNotAdded ExtensionType = iota
	// RootSimple: attached to the root branch, no dangling branch merged.
	RootSimple
	// RootComplex: attached to the root branch and at least one dangling
	// branch chained back in behind it.
	RootComplex
	// DanglingNew: no attachment point anywhere, a new orphan branch was
	// created.
	DanglingNew
	// DanglingExtended: extended an existing dangling branch, forward or
	// in reverse.
	DanglingExtended
	// DanglingMerged: the placement caused dangling branches to merge
	// with each other.
	DanglingMerged
)

func (e ExtensionType) String() string {
	switch e {
	case BlockNotAdded:
		return "BlockNotAdded"
	case RootSimple:
		return "RootSimple"
	case RootComplex:
		return "RootComplex"
	case DanglingNew:
		return "DanglingNew"
	case DanglingExtended:
		return "DanglingExtended"
	case DanglingMerged:
		return "DanglingMerged"
	default:
		return "Unknown"
	}
}
