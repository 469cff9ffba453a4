package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports model files written into a FileStore directory by other
// processes, such as a `threatcluster train` run.
type Watcher struct {
	dir      string
	onChange func(name string)
	logger   zerolog.Logger
}

// NewWatcher watches dir and calls onChange with the model name whenever a
// model file is created, written or renamed into place.
func NewWatcher(dir string, onChange func(name string), logger zerolog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		onChange: onChange,
		logger:   logger.With().Str("component", "model_watcher").Logger(),
	}
}

// Run blocks until ctx is cancelled or the watcher fails to start.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info().Str("dir", w.dir).Msg("Watching model directory")

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Model watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	name, ok := ModelName(event.Name)
	if !ok {
		return
	}
	w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Model file changed")
	w.onChange(name)
}
