package core

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads the configuration file whenever it changes on disk
// and publishes every successfully parsed version on Updates.
type ConfigWatcher struct {
	path    string
	logger  *Logger
	watcher *fsnotify.Watcher
	updates chan *Config
}

func NewConfigWatcher(path string, logger *Logger) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", path)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	// Editors usually replace the file instead of writing it in place, so the
	// directory is watched and events are filtered by name.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}
	return &ConfigWatcher{
		path:    abs,
		logger:  logger.Named("config"),
		watcher: w,
		updates: make(chan *Config, 1),
	}, nil
}

func (cw *ConfigWatcher) Updates() <-chan *Config {
	return cw.updates
}

// Run processes file events until the context is cancelled.
func (cw *ConfigWatcher) Run(ctx context.Context) error {
	defer close(cw.updates)
	defer cw.watcher.Close()

	for {
		select {
		case e, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != cw.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				cw.logger.Warn("ignoring config change", "err", err)
				continue
			}
			cw.logger.Info("config reloaded", "path", cw.path)
			select {
			case cw.updates <- cfg:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			cw.logger.Error("watcher error", "err", err)

		case <-ctx.Done():
			return nil
		}
	}
}
