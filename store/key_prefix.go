package store

// Declare database key prefix for objects
const (
	PrefixBlock     = "blk:"
	PrefixBlockMeta = "blk_meta:"
	PrefixAccount   = "account:"

	BlockMetaKeyCanonicalTip = "canonical_tip"
	BlockMetaKeyBestTip      = "best_tip"
)
