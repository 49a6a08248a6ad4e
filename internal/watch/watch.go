// Package watch reloads the functions document when it changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/log"
)

// ReloadFunc is called after the document settles with new content.
type ReloadFunc func(ctx context.Context) error

// Watcher watches one file. The parent directory is watched so that editors
// which save by rename are still seen.
type Watcher struct {
	path     string
	debounce time.Duration
	reload   ReloadFunc
	logger   *slog.Logger

	lastHash string
}

// New creates a Watcher for path.
func New(path string, debounce time.Duration, reload ReloadFunc, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = log.WithComponent("watch")
	}
	return &Watcher{path: filepath.Clean(path), debounce: debounce, reload: reload, logger: logger}
}

// Run blocks until ctx is cancelled. Reload failures are logged and do not
// stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// Content already loaded at startup does not trigger a reload.
	if h, err := config.ComputeBlake3Hash(w.path); err == nil {
		w.lastHash = h
	}
	w.logger.Info("watching functions document", "path", w.path, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("functions document event", "op", ev.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			w.settle(ctx)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}

// settle reloads if the content hash moved since the last reload.
func (w *Watcher) settle(ctx context.Context) {
	h, err := config.ComputeBlake3Hash(w.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("failed to hash functions document", "error", err)
		}
		return
	}
	if h == w.lastHash {
		w.logger.Debug("functions document unchanged", "hash", h)
		return
	}

	w.logger.Info("functions document changed, reloading", "hash", h)
	if err := w.reload(ctx); err != nil {
		w.logger.Error("reload failed, keeping previous version", "error", err)
	}
	// A failed reload is not retried until the content changes again.
	w.lastHash = h
}
