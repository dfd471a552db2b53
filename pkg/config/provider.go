package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Provider keeps the latest valid configuration loaded from a file and
// publishes every successful reload to its subscribers. Invalid edits are
// logged and the previous configuration stays current.
type Provider struct {
	path        string
	mu          sync.RWMutex
	current     *Config
	subscribers []chan *Config
	watcher     *Watcher
	logger      *slog.Logger
}

// NewProvider loads path and returns a provider. Call Watch to follow edits.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Provider{path: path, current: cfg, logger: logger}, nil
}

// Current returns the current configuration.
func (p *Provider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel that receives configuration updates. The
// current configuration is delivered immediately.
func (p *Provider) Subscribe() <-chan *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *Config, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.current
	return ch
}

// Reload re-reads the file. On success subscribers are notified.
func (p *Provider) Reload() error {
	cfg, err := Load(p.path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.current = cfg
	subscribers := make([]chan *Config, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		// Slow consumers only ever see the newest configuration.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
		}
	}
	p.logger.Info("Configuration reloaded", "path", p.path)
	return nil
}

// Watch reloads the configuration whenever the file changes.
func (p *Provider) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := NewWatcher(WatcherOptions{Paths: []string{p.path}, Debounce: debounce, Logger: p.logger}, func(string) error {
		return p.Reload()
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.watcher.Close()
		return err
	}
	p.mu.Lock()
	p.watcher = w
	p.mu.Unlock()
	return nil
}

// Close stops watching.
func (p *Provider) Close() error {
	p.mu.Lock()
	w := p.watcher
	p.watcher = nil
	p.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}
