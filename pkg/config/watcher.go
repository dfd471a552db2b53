package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOptions configure a Watcher.
type WatcherOptions struct {
	// Paths are files or directories. Files are watched through their
	// parent directory because editors often replace them by rename.
	Paths []string
	// Match filters events inside watched directories. Nil accepts all.
	Match func(path string) bool
	// Debounce collapses bursts of events into one callback.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher calls a function after watched files change.
type Watcher struct {
	files    map[string]bool
	dirs     map[string]bool
	match    func(string) bool
	watcher  *fsnotify.Watcher
	onChange func(string) error
	logger   *slog.Logger
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	done     chan struct{}
	debounce time.Duration
}

// NewWatcher creates a watcher for opts.Paths. onChange receives the last
// changed path of each debounced burst.
func NewWatcher(opts WatcherOptions, onChange func(string) error) (*Watcher, error) {
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("watcher requires at least one path")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		match:    opts.Match,
		watcher:  fw,
		onChange: onChange,
		logger:   opts.Logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		debounce: opts.Debounce,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.debounce <= 0 {
		w.debounce = 500 * time.Millisecond
	}

	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err == nil && info.IsDir() {
			w.dirs[abs] = true
			continue
		}
		w.files[abs] = true
	}
	return w, nil
}

// Start begins watching. It returns once the watches are registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	added := make(map[string]bool)
	add := func(dir string) error {
		if added[dir] {
			return nil
		}
		added[dir] = true
		return w.watcher.Add(dir)
	}
	for dir := range w.dirs {
		if err := add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	for file := range w.files {
		if err := add(filepath.Dir(file)); err != nil {
			return fmt.Errorf("watch %s: %w", file, err)
		}
	}

	w.running = true
	w.logger.Info("Watcher started", "files", len(w.files), "dirs", len(w.dirs))
	go w.loop(ctx)
	return nil
}

// Stop stops the watcher and waits for its loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	err := w.watcher.Close()
	<-w.done
	return err
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("Watched file event", "event", event.Op.String(), "file", event.Name)

			pending = event.Name
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.trigger(pending)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-w.stopCh:
			w.logger.Info("Watcher stopped")
			return

		case <-ctx.Done():
			w.logger.Info("Watcher context cancelled")
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	if w.files[path] {
		return true
	}
	if !w.dirs[filepath.Dir(path)] {
		return false
	}
	return w.match == nil || w.match(path)
}

func (w *Watcher) trigger(path string) {
	w.logger.Info("Watched file changed", "path", path)

	start := time.Now()
	if err := w.onChange(path); err != nil {
		w.logger.Error("Change handler failed", "error", err, "duration", time.Since(start))
		return
	}
	w.logger.Debug("Change handler completed", "duration", time.Since(start))
}
