package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"simfinder/imageprocessor"
	"simfinder/logging"
)

// DefaultDebounce coalesces bursts of file events (a camera import, a sync client)
const DefaultDebounce = 2 * time.Second

// Watcher reports image files created, written, removed or renamed under a folder tree
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	onChange func(paths []string)
}

// NewWatcher watches root and every directory below it. onChange receives the
// sorted set of changed image paths once no event arrived for debounce.
func NewWatcher(root string, debounce time.Duration, onChange func(paths []string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{fs: fw, debounce: debounce, onChange: onChange}

	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// fsnotify is not recursive, every directory needs its own watch
func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return err
		}
		return nil
	})
}

// Run delivers change notifications until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						logging.LogWarning("cannot watch new directory", "path", ev.Name, "error", err)
					}
					continue
				}
			}
			if !imageprocessor.IsImageFile(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				pending[ev.Name] = true
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			logging.LogWarning("file watcher error", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			logging.DebugLog("library changed", "files", len(paths))
			w.onChange(paths)
		}
	}
}

// Close releases the underlying watches
func (w *Watcher) Close() error {
	return w.fs.Close()
}
