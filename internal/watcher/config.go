// Package watcher reloads the config file when it changes on disk.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fimai/fimai-chat/internal/config"
	"github.com/fimai/fimai-chat/internal/logging"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const defaultDebounce = 200 * time.Millisecond

// ReloadFunc receives every configuration that loads cleanly after a change.
type ReloadFunc func(cfg *config.Config)

// ConfigWatcher watches one config file. Editors often replace files instead of
// writing them in place, so the parent directory is watched and events are
// filtered by name.
type ConfigWatcher struct {
	path     string
	onReload ReloadFunc
	load     func(path string) (*config.Config, error)
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	watcher *fsnotify.Watcher
}

// NewConfigWatcher returns nil when path is empty; a nil watcher is a no-op.
func NewConfigWatcher(path string, onReload ReloadFunc) *ConfigWatcher {
	path = strings.TrimSpace(path)
	if path == "" || onReload == nil {
		return nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &ConfigWatcher{
		path:     path,
		onReload: onReload,
		load:     config.Load,
		debounce: defaultDebounce,
	}
}

// Start registers the watch and handles events until ctx is done.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if errAdd := fw.Add(filepath.Dir(w.path)); errAdd != nil {
		if errClose := fw.Close(); errClose != nil {
			log.WithError(errClose).Warn("config watcher: close failed")
		}
		return errAdd
	}
	w.watcher = fw
	go w.loop(ctx)
	log.Infof("config watcher started (path=%s)", w.path)
	return nil
}

func (w *ConfigWatcher) loop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.watcher.Close()
	}()
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if !errors.Is(errWatch, fsnotify.ErrEventOverflow) {
				log.WithError(errWatch).Warn("config watcher: watch error")
			}
		}
	}
}

// schedule coalesces bursts of events into a single reload.
func (w *ConfigWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *ConfigWatcher) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		log.WithError(err).Warn("config watcher: reload rejected, keeping current settings")
		return
	}
	w.onReload(cfg)
}

// ApplyRuntime applies the settings that can change without a restart.
func ApplyRuntime(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if err := logging.SetLevel(cfg.Logging.Level); err != nil {
		log.WithError(err).Warn("config watcher: ignoring log level")
	}
}
