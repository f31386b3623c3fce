package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/nfsd/nfsd/internal/logger"
)

// Watcher reloads a Config from disk whenever its backing file changes,
// driving the SIGHUP configuration-reload surface (spec §6).
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// WatchFile starts watching configPath, invoking onReload with the
// freshly loaded and validated Config every time the file is rewritten.
// A load or validation failure is logged, onReload is not called for it,
// and the watch continues -- a bad edit should not crash a running server.
func WatchFile(configPath string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(configPath); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config file %q: %w", configPath, err)
	}

	w := &Watcher{path: configPath, watcher: fw, stop: make(chan struct{})}
	go w.run(onReload)
	return w, nil
}

func (w *Watcher) run(onReload func(*Config)) {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logger.Warn("config: reload failed, keeping previous configuration", "path", w.path, "error", err)
				continue
			}
			logger.Info("config: reloaded", "path", w.path)
			onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watch.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
