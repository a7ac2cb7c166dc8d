package receiver

import (
	"context"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/monitoring"
)

// BlockReceiver discovers raw block files, parses them and delivers Block
// records. Delivery is over a bounded queue: when the writer falls behind,
// the receiver suspends instead of dropping blocks. Parse and I/O failures
// go to the side error channel and never stop ingestion.
type BlockReceiver interface {
	// Run drives the receiver until ctx is cancelled. Cleanup of temp
	// working state happens before Run returns.
	Run(ctx context.Context) error
	// Blocks is the bounded delivery queue.
	Blocks() <-chan *block.Block
	// Errors is the side channel for recoverable ingestion failures.
	Errors() <-chan error
}

const dedupCacheSize = 4096

// base carries the delivery plumbing shared by the receivers.
type base struct {
	blocks chan *block.Block
	errs   chan error
	seen   *lru.Cache[string, struct{}]
}

func newBase(queueSize int) (*base, error) {
	seen, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &base{
		blocks: make(chan *block.Block, queueSize),
		errs:   make(chan error, 64),
		seen:   seen,
	}, nil
}

func (b *base) Blocks() <-chan *block.Block { return b.blocks }
func (b *base) Errors() <-chan error        { return b.errs }

// reportError delivers err on the side channel without ever blocking the
// poll loop; an unread, full channel only costs us the oldest reports.
func (b *base) reportError(err error) {
	monitoring.IncreaseReceiverErrorCount()
	select {
	case b.errs <- err:
	default:
		logx.Warn("RECEIVER", "error channel full, dropping: ", err)
	}
}

// ingestFile parses path and enqueues the resulting block, suspending on a
// full queue. The source file is removed only after a successful
// parse+enqueue. Returns false when ctx ended the enqueue.
func (b *base) ingestFile(ctx context.Context, path string) bool {
	if !block.IsValidBlockFile(path) {
		return true
	}
	blk, err := block.ParseFile(path)
	if err != nil {
		b.reportError(errors.Wrapf(err, "parse block file %s", path))
		return true
	}
	if _, dup := b.seen.Get(blk.StateHash); dup {
		// the overlap window re-downloads blocks we already delivered
		if err := os.Remove(path); err != nil {
			b.reportError(errors.Wrapf(err, "remove duplicate block file %s", path))
		}
		return true
	}

	select {
	case b.blocks <- blk:
	case <-ctx.Done():
		return false
	}
	b.seen.Add(blk.StateHash, struct{}{})
	if err := os.Remove(path); err != nil {
		b.reportError(errors.Wrapf(err, "remove block file %s", path))
	}
	return true
}
