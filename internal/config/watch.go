package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors produce when saving.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the holder's config file whenever it changes on disk, until
// ctx is canceled. The parent directory is watched so atomic-rename saves
// are seen. A reload that fails to parse or validate is logged and the
// previous config stays in effect. onReload, when non-nil, is called with
// each accepted config.
func Watch(ctx context.Context, holder *Holder, logger *slog.Logger, onReload func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer w.Close()

	path := holder.Path()
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	logger.Debug("watching config file", slog.String("path", path))

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()

	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if filepath.Base(ev.Name) != base {
				continue
			}

			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce.Reset(reloadDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-debounce.C:
			cfg, err := Reload(holder)
			if err != nil {
				logger.Error("ignoring invalid config change",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)

				continue
			}

			logger.Info("config reloaded", slog.String("path", path))

			if onReload != nil {
				onReload(cfg)
			}
		}
	}
}
