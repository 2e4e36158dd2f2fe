package groundwork

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	watcherSweepInterval = 200 * time.Millisecond
	watcherSettleWindow  = 500 * time.Millisecond
)

// ImportWatcher watches a drop directory for document JSON files and imports
// them as they appear. Editors and downloads write files in several chunks,
// so each path is held in a pending map until it has been quiet for a settle
// window before being read.
type ImportWatcher struct {
	store   *Store
	dir     string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	pending map[string]time.Time
}

func NewImportWatcher(store *Store, dir string, logger zerolog.Logger) (*ImportWatcher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: empty import directory", ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create import directory: %w", err)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &ImportWatcher{
		store:   store,
		dir:     dir,
		logger:  logger,
		watcher: fsWatcher,
		pending: map[string]time.Time{},
	}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *ImportWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(watcherSweepInterval)
	defer ticker.Stop()

	w.logger.Info().Str("dir", w.dir).Msg("watching for document imports")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if strings.ToLower(filepath.Ext(event.Name)) != ".json" {
				continue
			}
			w.pending[event.Name] = time.Now()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *ImportWatcher) sweep() {
	now := time.Now()
	for path, touched := range w.pending {
		if now.Sub(touched) < watcherSettleWindow {
			continue
		}
		delete(w.pending, path)
		w.importFile(path)
	}
}

func (w *ImportWatcher) importFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("read import file failed")
		return
	}
	doc, err := w.store.Import(data)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("import rejected")
		return
	}
	w.logger.Info().Str("path", path).Str("id", doc.ID).Str("name", doc.Name).Msg("file imported")
}
