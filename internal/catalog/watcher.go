package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ledgerlens/ledgerlens/internal/observability"
)

const defaultReloadDebounce = 250 * time.Millisecond

// Watcher reloads a TOML schema file into a Registry whenever the file
// changes. A file that fails to parse leaves the current catalog in place.
type Watcher struct {
	path     string
	registry *Registry
	logger   *slog.Logger
	debounce time.Duration
}

func NewWatcher(path string, registry *Registry, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		registry: registry,
		logger:   observability.Component(logger, "catalog_watcher"),
		debounce: defaultReloadDebounce,
	}
}

// Run blocks until ctx is cancelled. The parent directory is watched rather
// than the file so that editors which replace files atomically are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create schema watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch schema dir: %w", err)
	}
	w.logger.InfoContext(ctx, "watching schema file", slog.String("path", w.path))

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			reload = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "schema watcher error", slog.Any("error", err))
		case <-reload:
			reload = nil
			w.Reload(ctx)
		}
	}
}

// Reload parses the file once and swaps it in on success.
func (w *Watcher) Reload(ctx context.Context) bool {
	next, err := LoadFile(w.path)
	if err != nil {
		observability.IncrementCatalogReload("failed")
		w.logger.ErrorContext(ctx, "schema reload failed, keeping previous catalog",
			slog.String("path", w.path),
			slog.Any("error", err),
		)
		return false
	}
	w.registry.Swap(next)
	observability.IncrementCatalogReload("succeeded")
	w.logger.InfoContext(ctx, "schema reloaded",
		slog.String("catalog", next.Name()),
		slog.Int("tables", len(next.TableNames())),
	)
	return true
}
