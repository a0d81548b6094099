package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cyberinferno/netbatch/logger"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reloading.
const DefaultDebounce = 100 * time.Millisecond

// Watcher monitors a config file via fsnotify and reloads it on change.
type Watcher struct {
	path    string
	base    Config
	changed map[string]bool
	logger  logger.Logger
	delay   time.Duration

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a watcher for path. Reloads start from base and
// re-apply the file and the environment, so flags in changed keep winning.
func NewWatcher(path string, base Config, changed map[string]bool, log logger.Logger) *Watcher {
	if log == nil {
		log = logger.Nop()
	}

	return &Watcher{
		path:    path,
		base:    base,
		changed: changed,
		logger:  log.With(logger.String("component", "config_watcher"), logger.String("path", path)),
		delay:   DefaultDebounce,
	}
}

// Run watches the file's directory until ctx is done. Every valid reload is
// passed to onChange from a timer goroutine; invalid files are logged and
// ignored.
//
// Returns:
//   - nil when ctx is done; an error if the watch cannot be set up
func (w *Watcher) Run(ctx context.Context, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	defer w.stopDebounce()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounceReload(onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", logger.Err(err))
		}
	}
}

func (w *Watcher) debounceReload(onChange func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}

	w.debounce = time.AfterFunc(w.delay, func() {
		cfg, err := Resolve(w.base, w.path, w.changed)
		if err != nil {
			w.logger.Warn("ignoring invalid config", logger.Err(err))
			return
		}

		w.logger.Info("config reloaded")
		onChange(cfg)
	})
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
}
