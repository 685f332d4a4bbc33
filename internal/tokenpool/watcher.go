package tokenpool

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the pool when the credentials file changes on disk.
// Change events are debounced so editors that write in several steps
// trigger a single reload.
type Watcher struct {
	pool     *Pool
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher builds a Watcher for the given credentials file.
func NewWatcher(pool *Pool, path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		pool:     pool,
		path:     path,
		debounce: 250 * time.Millisecond,
		logger:   logger,
	}
}

// Watch blocks until the context is cancelled, reloading the pool after each
// debounced change to the credentials file. The parent directory is watched
// rather than the file itself so atomic rename-in-place saves are seen.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching credentials file", "path", w.path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				// Drain a fire that raced the reset so the debounce
				// window restarts cleanly.
				if !timer.Stop() {
					select {
					case <-timerC:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("credentials watch error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.pool.Reload(true); err != nil {
				w.logger.Error("credential reload failed", "error", err)
			}
		}
	}
}
