// Package watch re-extracts a canister's interface whenever its Wasm file
// is rebuilt.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
)

// DefaultDebounce coalesces the burst of events a linker emits while
// writing one file.
const DefaultDebounce = 200 * time.Millisecond

// Handler receives the outcome of every extraction.
type Handler func(text string, err error)

// Watcher watches one Wasm file.
type Watcher struct {
	extractor *wasm.Extractor
	path      string
	debounce  time.Duration
	logger    *zap.Logger
}

// New creates a watcher for path.
func New(extractor *wasm.Extractor, path string, logger *zap.Logger) *Watcher {
	return &Watcher{
		extractor: extractor,
		path:      filepath.Clean(path),
		debounce:  DefaultDebounce,
		logger:    logger.With(zap.String("component", "watcher"), zap.String("path", path)),
	}
}

// WithDebounce overrides the quiet period before re-extracting.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Run extracts once, then again after every change, until ctx is done.
// The parent directory is watched because build tools usually replace the
// file rather than write it in place.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch '%s': %w", dir, err)
	}

	w.logger.Info("Watching for changes")
	handle(w.extractor.ExtractFile(ctx, w.path))

	// Armed only by change events.
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("File changed", zap.Stringer("op", ev.Op))
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", zap.Error(err))

		case <-timer.C:
			handle(w.extractor.ExtractFile(ctx, w.path))
		}
	}
}
