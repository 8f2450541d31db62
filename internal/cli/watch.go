package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// watchDebounce groups the bursts of events editors emit for one save.
const watchDebounce = 150 * time.Millisecond

// fileWatcher reports changes to a fixed set of files. It watches their
// directories, so files replaced by rename (as many editors save) are seen.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string]string // absolute path -> path as given
}

func newFileWatcher(paths []string) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	fw := &fileWatcher{watcher: w, files: make(map[string]string, len(paths))}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			w.Close()
			return nil, err
		}
		fw.files[abs] = p
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	return fw, nil
}

// run calls onChange with the sorted paths of changed files until ctx is
// cancelled. Calls never overlap.
func (fw *fileWatcher) run(ctx context.Context, logger *log.Logger, onChange func([]string)) {
	pending := make(map[string]bool)
	var flush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			p, ok := fw.files[abs]
			if !ok {
				continue
			}
			logger.Debug("file changed", "file", p, "op", ev.Op)
			pending[p] = true
			flush = time.After(watchDebounce)

		case <-flush:
			flush = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			clear(pending)
			slices.Sort(changed)
			onChange(changed)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("file watcher error", "err", err)
		}
	}
}

// Close stops watching.
func (fw *fileWatcher) Close() error {
	return fw.watcher.Close()
}
