package block

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/treelinehq/treeline/common"
)

// Block files are named <network>-<height>-<statehash>.json; the state hash
// is taken from the filename, everything else from the JSON body.

type fileBlock struct {
	ParentHash string        `json:"parent_hash"`
	Height     uint32        `json:"height"`
	Timestamp  int64         `json:"timestamp"`
	LedgerDiff []AccountDiff `json:"ledger_diff"`
}

// IsValidBlockFile reports whether path names a well-formed block file.
func IsValidBlockFile(path string) bool {
	_, _, _, err := splitBlockFileName(path)
	return err == nil
}

func splitBlockFileName(path string) (network string, height uint32, stateHash string, err error) {
	base := filepath.Base(path)
	if filepath.Ext(base) != ".json" {
		return "", 0, "", fmt.Errorf("block file %s is not a .json file", base)
	}
	name := strings.TrimSuffix(base, ".json")
	parts := strings.SplitN(name, "-", 3)
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("block file %s does not match <network>-<height>-<statehash>", base)
	}
	h, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, "", fmt.Errorf("block file %s has non-numeric height: %w", base, err)
	}
	if !common.IsValidStateHash(parts[2]) {
		return "", 0, "", fmt.Errorf("block file %s has malformed state hash %s", base, parts[2])
	}
	return parts[0], uint32(h), parts[2], nil
}

// ParseFile reads a block file into a Block record.
func ParseFile(path string) (*Block, error) {
	_, fileHeight, stateHash, err := splitBlockFileName(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read block file %s: %w", path, err)
	}

	var fb fileBlock
	if err := json.Unmarshal(raw, &fb); err != nil {
		return nil, fmt.Errorf("unmarshal block file %s: %w", path, err)
	}
	if fb.ParentHash == "" {
		return nil, fmt.Errorf("block file %s missing parent_hash", path)
	}
	height := fb.Height
	if height == 0 {
		// older dumps omit the height field; the filename is authoritative
		height = fileHeight
	}

	b := &Block{
		StateHash:  stateHash,
		ParentHash: fb.ParentHash,
		Height:     height,
		LedgerDiff: fb.LedgerDiff,
		Raw:        raw,
	}
	if fb.Timestamp > 0 {
		b.Timestamp = time.UnixMilli(fb.Timestamp).UTC()
	}
	return b, nil
}

// HeightFromFileName extracts the height encoded in a block file name.
func HeightFromFileName(path string) (uint32, error) {
	_, height, _, err := splitBlockFileName(path)
	return height, err
}

// SortBlockFiles orders block file paths by the height encoded in their
// names, lowest first, so a startup sweep feeds the witness bottom-up.
func SortBlockFiles(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		_, hi, _, erri := splitBlockFileName(paths[i])
		_, hj, _, errj := splitBlockFileName(paths[j])
		if erri != nil || errj != nil {
			return erri == nil
		}
		return hi < hj
	})
}
