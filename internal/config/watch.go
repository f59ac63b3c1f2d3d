package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config file whenever it changes and passes the new config
// to onChange. It blocks until ctx is done. The parent directory is watched
// so editors that replace the file by rename are seen too.
func Watch(ctx context.Context, path string, log *zap.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(reloadDebounce)
			}

		case <-debounce:
			debounce = nil
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed, keeping previous", zap.String("path", path), zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("path", path))
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}
