package notify

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of filesystem events into one hint.
const DefaultDebounce = 500 * time.Millisecond

// FSWatcher watches the working copy for changes made outside the daemon
// (a manual git pull, a restored backup) and funnels debounced hints into
// the checker. It is an assist only: any failure here degrades to the
// periodic check, never to an error the caller sees.
type FSWatcher struct {
	root     string
	debounce time.Duration
	kick     func()
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewFSWatcher builds a watcher rooted at the working copy that calls kick
// after each debounced burst of changes.
func NewFSWatcher(root string, debounce time.Duration, kick func(), logger *slog.Logger) *FSWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FSWatcher{
		root:     root,
		debounce: debounce,
		kick:     kick,
		logger:   logger,
	}
}

// Start begins watching until the context is cancelled. Returns an error
// only if the watcher cannot be created at all; per-directory failures are
// logged and skipped.
func (w *FSWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.addRecursive(watcher, w.root)

	go w.loop(ctx, watcher)
	return nil
}

// addRecursive watches root and every subdirectory except .git.
func (w *FSWatcher) addRecursive(watcher *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}

		if addErr := watcher.Add(path); addErr != nil {
			w.logger.Debug("cannot watch directory", "path", path, "error", addErr)
		}
		return nil
	})
}

// loop consumes watcher events until the context is cancelled.
func (w *FSWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", "error", err)
		}
	}
}

// handleEvent schedules a debounced kick, and starts watching directories
// as they appear.
func (w *FSWatcher) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if filepath.Base(event.Name) == ".git" {
		return
	}

	if event.Has(fsnotify.Create) {
		// New directories need their own watch. addRecursive no-ops on
		// plain files.
		w.addRecursive(watcher, event.Name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.kick)
}

func (w *FSWatcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
