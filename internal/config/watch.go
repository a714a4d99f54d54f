package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the write bursts editors produce on save.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watch signals on the returned channel after the file at path changes. The
// parent directory is watched so that atomic replace-by-rename saves are
// seen. The channel is closed when ctx ends.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger) (<-chan struct{}, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	out := make(chan struct{}, 1)

	go watchLoop(ctx, w, path, debounce, out, logger)

	return out, nil
}

func watchLoop(
	ctx context.Context, w *fsnotify.Watcher, path string, debounce time.Duration,
	out chan<- struct{}, logger *slog.Logger,
) {
	defer close(out)
	defer w.Close()

	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			logger.Debug("config file changed", slog.String("op", ev.Op.String()))
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}

			logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}
