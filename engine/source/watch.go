package source

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a document that appeared, changed or disappeared under a
// watched root. Path is slash separated and relative to the root.
type Change struct {
	Path    string
	Removed bool
}

// Watcher reports document changes below a directory. Bursts of events
// are coalesced for the debounce interval before being delivered.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a Watcher for root. A debounce of 0 means 500ms.
func NewWatcher(root string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{root: root, debounce: debounce, logger: logger}
}

// Run watches until ctx is done, calling apply with each settled batch.
// apply runs on the watcher goroutine; events arriving meanwhile queue up.
func (w *Watcher) Run(ctx context.Context, apply func(context.Context, []Change)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}

	pending := make(map[string]Change)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("source: watch error", "root", w.root, "err", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if isDir(ev.Name) {
				rel, err := filepath.Rel(w.root, ev.Name)
				if ev.Has(fsnotify.Create) && err == nil && !hiddenPath(rel) {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Warn("source: watch new directory", "dir", ev.Name, "err", err)
					}
				}
				continue
			}
			ch, ok := w.classify(ev)
			if !ok {
				continue
			}
			pending[ch.Path] = ch
			timer.Reset(w.debounce)
		case <-timer.C:
			batch := make([]Change, 0, len(pending))
			for _, c := range pending {
				batch = append(batch, c)
			}
			sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
			clear(pending)
			apply(ctx, batch)
		}
	}
}

// classify maps an event to a Change. Chmod-only events and hidden files
// are ignored; renames count as removals since the new name arrives as a
// separate Create.
func (w *Watcher) classify(ev fsnotify.Event) (Change, bool) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") || hiddenPath(rel) {
		return Change{}, false
	}
	rel = filepath.ToSlash(rel)
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Change{Path: rel, Removed: true}, true
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		return Change{Path: rel}, true
	default:
		return Change{}, false
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func hiddenPath(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}
