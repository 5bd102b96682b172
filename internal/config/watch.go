package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Live holds the file-level runtime section, swapped atomically on reload.
type Live struct {
	v atomic.Pointer[RuntimeConfig]
}

func NewLive(r RuntimeConfig) *Live {
	l := &Live{}
	l.Set(r)
	return l
}

func (l *Live) Get() RuntimeConfig {
	return *l.v.Load()
}

func (l *Live) Set(r RuntimeConfig) {
	l.v.Store(&r)
}

// Watch reloads path whenever it changes and publishes its runtime section to
// live. Invalid files are logged and the previous runtime is kept. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, live *Live, logger *zap.Logger) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file rather than write it.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("ignoring invalid config reload", zap.String("path", abs), zap.Error(err))
				continue
			}
			live.Set(cfg.Runtime)
			logger.Info("runtime config reloaded", zap.String("path", abs))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
