package index

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"deepresearch/internal/logging"
)

// Watcher marks indexed folders dirty on filesystem changes and reindexes
// them after a quiet period, so manual reindex runs stay cheap.
type Watcher struct {
	ix       *Indexer
	debounce time.Duration

	mu      sync.Mutex
	dirty   map[string]bool // folder path -> needs reindex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher builds a watcher over the indexer's configured collections.
func NewWatcher(ix *Indexer, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		ix:       ix,
		debounce: debounce,
		dirty:    make(map[string]bool),
		watcher:  fsw,
		done:     make(chan struct{}),
	}

	for _, coll := range ix.cfg.Collections {
		for _, folder := range coll.Folders {
			if err := fsw.Add(folder); err != nil {
				logging.IndexWarn("cannot watch %s: %v", folder, err)
				continue
			}
			logging.IndexDebug("watching %s", folder)
		}
	}
	return w, nil
}

// Run processes filesystem events until the context is cancelled. Dirty
// folders are reindexed once no event has arrived for the debounce window.
func (w *Watcher) Run(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.markDirty(ev.Name)
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.IndexWarn("watch error: %v", err)

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// markDirty records which watched folder the changed path belongs to.
func (w *Watcher) markDirty(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, coll := range w.ix.cfg.Collections {
		for _, folder := range coll.Folders {
			if pathWithin(path, folder) {
				w.dirty[folder] = true
				return
			}
		}
	}
}

// flush reindexes every dirty folder.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	folders := make([]string, 0, len(w.dirty))
	for f := range w.dirty {
		folders = append(folders, f)
	}
	w.dirty = make(map[string]bool)
	w.mu.Unlock()

	for _, folder := range folders {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.ix.IndexFolder(ctx, folder); err != nil {
			logging.IndexWarn("reindex of %s failed: %v", folder, err)
		}
	}
}

// Close stops watching. Run must have returned or be about to.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func pathWithin(path, folder string) bool {
	rel, err := filepath.Rel(folder, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
