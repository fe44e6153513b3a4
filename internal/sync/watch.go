package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow is how long Watch waits after the last
// filesystem event before triggering a sync pass, coalescing a burst of
// saves (e.g. a git checkout) into one pass.
const DefaultDebounceWindow = 300 * time.Millisecond

// Watch starts an fsnotify watch on opts.Root and triggers a Sync pass
// each time the debounce window elapses after the last filesystem
// event, until ctx is cancelled. It is an optional live trigger:
// spec.md's sync model is a pull-based reconciliation pass, not an
// incremental per-event index, so Watch's only job is deciding *when*
// to run another full Sync, never what to do with an individual event.
// Passes triggered this way go through the same Engine.Sync (and so the
// same writeMu lane) as a CLI- or tool-invoked sync, so a watch pass
// never races a `reindex_document`/`build_dictionary` call.
func (e *Engine) Watch(ctx context.Context, opts Options, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	root := opts.Root
	if root == "" {
		root = "."
	}
	if err := addDirs(watcher, root, opts.Excludes); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = addDirs(watcher, event.Name, opts.Excludes)
				}
			}
			pending = true
			timer.Reset(debounce)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("sync: watcher error", slog.String("error", werr.Error()))

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			if _, err := e.Sync(ctx, opts); err != nil {
				slog.Warn("sync: watch-triggered pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// addDirs registers root and every non-excluded subdirectory with
// watcher. fsnotify watches are not recursive on any platform, so a
// live watch has to add each directory individually, same as the
// teacher's watcher package does for its own recursive-add helper.
func addDirs(watcher *fsnotify.Watcher, root string, excludes []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && isExcluded(rel, excludes) {
			return fs.SkipDir
		}
		return watcher.Add(path)
	})
}
