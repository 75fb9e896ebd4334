package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and republishes it into a Store.
type Reloader struct {
	watcher  *fsnotify.Watcher
	store    *Store
	path     string
	logger   zerolog.Logger
	onReload func(*Settings)
}

// NewReloader creates a file watcher for path. The parent directory is
// watched so editors that replace the file atomically are still seen.
func NewReloader(store *Store, path string, logger zerolog.Logger) (*Reloader, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return nil, fmt.Errorf("no config path to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config directory %q: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	return &Reloader{
		watcher: watcher,
		store:   store,
		path:    filepath.Clean(path),
		logger:  logger,
	}, nil
}

// OnReload registers a callback run after every successful reload.
func (r *Reloader) OnReload(fn func(*Settings)) {
	r.onReload = fn
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait after the last write before reloading
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (r *Reloader) reload() {
	if err := r.store.Load(r.path); err != nil {
		r.logger.Error().Err(err).Str("path", r.path).Msg("config hot-reload failed, keeping previous settings")
		return
	}
	r.logger.Info().Str("path", r.path).Str("hash", r.store.Hash()).Msg("config reloaded")
	if r.onReload != nil {
		cfg, err := r.store.Snapshot()
		if err == nil {
			r.onReload(cfg)
		}
	}
}
