package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a config file on disk, debouncing rapid-fire writes
// the way editors/deploy tools tend to produce them. Grounded on the
// pack's fsnotify hot-reload pattern (teradata-labs/loom's
// pkg/patterns/hotreload.go); NANOBOT_CONFIG always wins over the file on
// every reload, matching Load's precedence.
type Watcher struct {
	path    string
	target  *Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	debounce *time.Timer
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher starts watching path and reloads target in place whenever it
// changes. Call Close to stop. A no-op (nil, nil) is returned if path is
// empty — hot-reload is optional, off when there's no file to watch.
func NewWatcher(path string, target *Config, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, target: target, watcher: fw, logger: logger, stopCh: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	const debounceDelay = 300 * time.Millisecond
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.mu.Lock()
			if w.debounce != nil {
				w.debounce.Stop()
			}
			w.debounce = time.AfterFunc(debounceDelay, w.reload)
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", slog.String("error", err.Error()))
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	fresh, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	w.target.ReplaceFrom(fresh)
	w.logger.Info("config reloaded", slog.String("path", w.path))
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.watcher.Close()
}
