package receiver

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/logx"
)

// FilesystemReceiver watches a directory for freshly written block files.
// An optional startup directory is swept once, lowest height first, before
// watching begins.
type FilesystemReceiver struct {
	*base
	watchDir   string
	startupDir string
}

func NewFilesystemReceiver(watchDir, startupDir string, queueSize int) (*FilesystemReceiver, error) {
	b, err := newBase(queueSize)
	if err != nil {
		return nil, err
	}
	return &FilesystemReceiver{
		base:       b,
		watchDir:   watchDir,
		startupDir: startupDir,
	}, nil
}

func (r *FilesystemReceiver) Run(ctx context.Context) error {
	if r.startupDir != "" {
		if ok := r.sweepDirectory(ctx, r.startupDir); !ok {
			return ctx.Err()
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create filesystem watcher")
	}
	defer watcher.Close()
	if err := watcher.Add(r.watchDir); err != nil {
		return errors.Wrapf(err, "watch %s", r.watchDir)
	}
	logx.Info("RECEIVER", "watching ", r.watchDir, " for block files")

	// files may have landed before the watch started
	if ok := r.sweepDirectory(ctx, r.watchDir); !ok {
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !r.ingestFile(ctx, event.Name) {
				return ctx.Err()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.reportError(errors.Wrap(err, "filesystem watcher"))
		}
	}
}

// sweepDirectory ingests every block file already sitting in dir, ordered
// by the height in the filename so the witness sees the chain bottom-up.
func (r *FilesystemReceiver) sweepDirectory(ctx context.Context, dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.reportError(errors.Wrapf(err, "read startup directory %s", dir))
		return true
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if block.IsValidBlockFile(path) {
			paths = append(paths, path)
		}
	}
	block.SortBlockFiles(paths)
	logx.Info("RECEIVER", "sweeping ", len(paths), " block files from ", dir)
	for _, path := range paths {
		if !r.ingestFile(ctx, path) {
			return false
		}
	}
	return true
}
