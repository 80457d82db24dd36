package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/For-Sunny/cascade-memory/internal/logging"
)

// Watcher reloads a config file while the process runs: after each debounced
// write it re-reads the file, reapplies the logging settings, and hands the
// new Config to onReload. It does not itself change the decay or rate-limit
// settings of running components. It follows the same debounced fsnotify.Write pattern beads' issue
// watcher uses for its live-refresh view, adapted from a display refresh to
// a config reload.
type Watcher struct {
	path    string
	onReload func(*Config)
}

// NewWatcher creates a config watcher for the file at path. onReload is
// called with the freshly loaded config after each debounced write.
func NewWatcher(path string, onReload func(*Config)) *Watcher {
	return &Watcher{path: path, onReload: onReload}
}

// Run blocks, watching until ctx is cancelled. Safe to run in a goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	debounceDelay := 500 * time.Millisecond
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) || filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				cfg, err := Load(w.path)
				if err != nil {
					logging.Get(logging.CategoryBoot).Warn("config reload failed: %v", err)
					return
				}
				logging.Configure(cfg.LoggingSettings())
				logging.Get(logging.CategoryBoot).Info("config reloaded from %s", w.path)
				if w.onReload != nil {
					w.onReload(cfg)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryBoot).Warn("config watcher error: %v", err)
		}
	}
}
