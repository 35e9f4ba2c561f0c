package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 250 * time.Millisecond

// WatchFile signals on the returned channel whenever path is written,
// created or renamed into place. The parent directory is watched so atomic
// saves (write to temp, rename) are seen. The watcher stops with ctx.
func WatchFile(ctx context.Context, path string, logger *slog.Logger) (<-chan struct{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer w.Close()
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				logger.Debug("config file event", "op", ev.Op.String(), "path", ev.Name)
				debounce = time.After(reloadDebounce)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			case <-debounce:
				debounce = nil
				select {
				case changes <- struct{}{}:
				default:
				}
			}
		}
	}()
	return changes, nil
}

// ServeWithReload serves the App returned by load and replaces it whenever
// changes fires. A configuration that fails to load is logged and the
// running App is kept. It returns when ctx is cancelled.
func ServeWithReload(ctx context.Context, changes <-chan struct{}, load func(context.Context) (*App, error), logger *slog.Logger) error {
	cur, err := load(ctx)
	if err != nil {
		return err
	}

	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func(a *App) { done <- a.Serve(runCtx) }(cur)

		var next *App
		for next == nil {
			select {
			case <-ctx.Done():
				cancel()
				err := <-done
				return errors.Join(err, cur.Close())
			case err := <-done:
				cancel()
				return errors.Join(err, cur.Close())
			case <-changes:
				n, err := load(ctx)
				if err != nil {
					logger.Error("reloading config failed, keeping current configuration", "error", err)
					continue
				}
				next = n
			}
		}

		logger.Info("config changed, restarting scheduler", "probes", next.Registry.Len())
		cancel()
		if err := <-done; err != nil {
			logger.Warn("scheduler stopped with error", "error", err)
		}
		if err := cur.Close(); err != nil {
			logger.Warn("closing previous configuration", "error", err)
		}
		cur = next
	}
}
