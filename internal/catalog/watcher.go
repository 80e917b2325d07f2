package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher serves the latest successfully loaded snapshot of a catalog file
// and reloads it when the file changes. Runs already holding a snapshot keep
// it; only snapshots requested after a reload see the new catalog.
type Watcher struct {
	source   *FileProvider
	current  atomic.Pointer[Snapshot]
	reloads  atomic.Int64
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher loads the catalog once and returns a watcher serving it.
func NewWatcher(ctx context.Context, source *FileProvider, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	snap, err := source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		source:   source,
		debounce: 200 * time.Millisecond,
		logger:   logger,
	}
	w.current.Store(snap)
	return w, nil
}

// Snapshot returns the current snapshot. It never blocks on I/O.
func (w *Watcher) Snapshot(ctx context.Context) (*Snapshot, error) {
	return w.current.Load(), nil
}

// Current returns the current snapshot.
func (w *Watcher) Current() *Snapshot {
	return w.current.Load()
}

// Reloads returns how many times the catalog was swapped after the initial load.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Reload re-reads the catalog file. On failure the previous snapshot stays.
func (w *Watcher) Reload(ctx context.Context) error {
	snap, err := w.source.Snapshot(ctx)
	if err != nil {
		w.logger.Warn("catalog reload failed, keeping previous snapshot",
			zap.String("path", w.source.Path), zap.Error(err))
		return err
	}
	w.current.Store(snap)
	w.reloads.Add(1)
	ops, datasets, fields := snap.Stats()
	w.logger.Info("catalog reloaded",
		zap.String("path", w.source.Path),
		zap.Int("operators", ops),
		zap.Int("datasets", datasets),
		zap.Int("fields", fields))
	return nil
}

// Run watches the catalog file's directory until ctx is cancelled.
// Editors often replace files by rename, so the directory is watched
// rather than the file itself.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.source.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("catalog file changed", zap.String("op", ev.Op.String()))
			pending = time.After(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			_ = w.Reload(ctx)
		}
	}
}
