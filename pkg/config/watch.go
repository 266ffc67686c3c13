package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay collapses the burst of events an editor produces for
// one save.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher calls back when watched files change on disk. Parent
// directories are watched so that files replaced by rename are still
// seen.
type Watcher struct {
	logger zerolog.Logger
	delay  time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	files   map[string]bool
	timers  map[string]*time.Timer
}

// NewWatcher returns a watcher. A zero delay uses DefaultReloadDelay.
func NewWatcher(logger zerolog.Logger, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	return &Watcher{
		logger: logger.With().Str("component", "watcher").Logger(),
		delay:  delay,
		files:  make(map[string]bool),
		timers: make(map[string]*time.Timer),
	}
}

// Watch starts watching paths and returns. fn runs once per settled
// change with the path that changed. Watching stops when ctx is done.
func (w *Watcher) Watch(ctx context.Context, paths []string, fn func(path string) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dirs := make(map[string]bool)
	w.mu.Lock()
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			w.mu.Unlock()
			_ = watcher.Close()
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	w.watcher = watcher
	w.mu.Unlock()

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go w.processEvents(ctx, watcher, fn)

	w.logger.Info().Int("paths", len(paths)).Msg("started watching")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, fn func(string) error) {
	for {
		select {
		case <-ctx.Done():
			w.stop()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Clean(event.Name)
			w.mu.Lock()
			if !w.files[name] {
				w.mu.Unlock()
				continue
			}
			w.logger.Debug().Str("file", name).Str("op", event.Op.String()).Msg("file changed")
			if t := w.timers[name]; t != nil {
				t.Stop()
			}
			w.timers[name] = time.AfterFunc(w.delay, func() {
				if ctx.Err() != nil {
					return
				}
				if err := fn(name); err != nil {
					w.logger.Error().Err(err).Str("file", name).Msg("reload failed")
				}
			})
			w.mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.timers {
		t.Stop()
	}
	if w.watcher != nil {
		_ = w.watcher.Close()
		w.watcher = nil
	}
}

// WatchFile reloads the config at path on every change and hands each
// valid result to apply. Invalid edits are logged and skipped.
func WatchFile(ctx context.Context, logger zerolog.Logger, path string, apply func(*Config)) error {
	w := NewWatcher(logger, 0)
	return w.Watch(ctx, []string{path}, func(changed string) error {
		cfg, err := Load(changed)
		if err != nil {
			return err
		}
		w.logger.Info().Str("file", changed).Msg("config reloaded")
		apply(cfg)
		return nil
	})
}
