package ml

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watch reloads the artifact whenever it changes on disk and blocks until ctx
// is cancelled. The containing directory is watched so that editors and
// deploy tools that replace the file by rename are picked up.
func (h *Handle) Watch(ctx context.Context) error {
	return h.watch(ctx, defaultDebounce)
}

func (h *Handle) watch(ctx context.Context, debounce time.Duration) error {
	if h.cfg.Path == "" {
		return errors.New("handle has no artifact path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(h.cfg.Path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	h.logger.Info("watching model artifact", zap.String("path", target))

	ticker := time.NewTicker(debounce / 5)
	defer ticker.Stop()
	var pending time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("model watcher error", zap.Error(err))

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < debounce {
				continue
			}
			pending = time.Time{}
			if err := h.Reload(); err != nil {
				h.logger.Error("model reload failed, keeping current model",
					zap.String("path", target), zap.Error(err))
			}
		}
	}
}
