package receiver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/logx"
)

// BucketReceiver polls a cloud bucket of block files named
// <network>-<height>-<statehash>.json. Each cycle downloads a height window
// around the highest block delivered so far (the overlap re-fetches recent
// heights to pick up late forks), parses whatever landed in the temp
// directory and delivers it. The temp directory is removed on shutdown.
type BucketReceiver struct {
	*base
	bucket    string
	network   string
	tempDir   string
	pollFreq  time.Duration
	overlap   uint32
	maxHeight uint32
}

func NewBucketReceiver(bucket, network, tempDir string, pollFreq time.Duration, startFrom, overlap uint32, queueSize int) (*BucketReceiver, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create temp blocks dir %s", tempDir)
	}
	info, err := os.Stat(tempDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("temp blocks dir %s is not a directory", tempDir)
	}
	b, err := newBase(queueSize)
	if err != nil {
		return nil, err
	}
	return &BucketReceiver{
		base:      b,
		bucket:    bucket,
		network:   network,
		tempDir:   tempDir,
		pollFreq:  pollFreq,
		overlap:   overlap,
		maxHeight: startFrom,
	}, nil
}

func (r *BucketReceiver) Run(ctx context.Context) error {
	logx.Info("RECEIVER", "polling bucket ", r.bucket, " (", r.network, ") every ", r.pollFreq)
	for {
		started := time.Now()

		if err := r.downloadWindow(ctx); err != nil {
			r.reportError(err)
		}
		if ok := r.drainTempDir(ctx); !ok {
			break
		}

		elapsed := time.Since(started)
		if elapsed < r.pollFreq {
			select {
			case <-time.After(r.pollFreq - elapsed):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	// receivers clean up their working directories on the way out
	if err := os.RemoveAll(r.tempDir); err != nil {
		logx.Warn("RECEIVER", "could not remove temp blocks dir ", r.tempDir, ": ", err)
	}
	return nil
}

// downloadWindow batch-copies the current height window into the temp dir
// via gsutil, feeding one object pattern per height on stdin.
func (r *BucketReceiver) downloadWindow(ctx context.Context) error {
	start := uint32(2)
	if r.maxHeight > r.overlap && r.maxHeight-r.overlap > start {
		start = r.maxHeight - r.overlap
	}
	end := r.maxHeight + r.overlap

	var patterns strings.Builder
	for height := start; height <= end; height++ {
		patterns.WriteString(r.bucketFileFromHeight(height))
	}

	cmd := exec.CommandContext(ctx, "gsutil", "-m", "cp", "-n", "-I", r.tempDir)
	cmd.Stdin = strings.NewReader(patterns.String())
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(err, "gsutil window [%d, %d]: %s", start, end, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *BucketReceiver) bucketFileFromHeight(height uint32) string {
	return fmt.Sprintf("gs://%s/%s-%d-*.json\n", r.bucket, r.network, height)
}

func (r *BucketReceiver) drainTempDir(ctx context.Context) bool {
	entries, err := os.ReadDir(r.tempDir)
	if err != nil {
		r.reportError(errors.Wrapf(err, "read temp blocks dir %s", r.tempDir))
		return true
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(r.tempDir, entry.Name())
		if block.IsValidBlockFile(path) {
			paths = append(paths, path)
		}
	}
	block.SortBlockFiles(paths)
	for _, path := range paths {
		if height, err := block.HeightFromFileName(path); err == nil && height > r.maxHeight {
			r.maxHeight = height
		}
		if !r.ingestFile(ctx, path) {
			return false
		}
	}
	return true
}
