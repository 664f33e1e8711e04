package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and calls onChange with the previous and the
// new config whenever the content changes and the new content is valid.
// Invalid edits are logged and ignored; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reloadMu serialises Reload so onChange sees configs in file order.
	reloadMu sync.Mutex

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.lastHash, w.lastMtime = snap.cfg, snap.hash, snap.mtime

	w.wg.Go(w.poll)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling and waits for an in-flight check to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.reload(false); err != nil {
				slog.Warn("config watcher: reload failed", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file immediately, ignoring the mtime shortcut, and
// reports whether the config changed. An invalid file returns an error and
// leaves the current config in place.
func (w *Watcher) Reload() (bool, error) {
	return w.reload(true)
}

func (w *Watcher) reload(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		w.mu.Lock()
		same := info.ModTime().Equal(w.lastMtime)
		w.mu.Unlock()
		if same {
			return false, nil
		}
	}

	snap, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.lastMtime = snap.mtime
	if snap.hash == w.lastHash {
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
	return true, nil
}

type fileSnapshot struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// read loads and validates the file along with its hash and mtime.
func (w *Watcher) read() (fileSnapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileSnapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fileSnapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return fileSnapshot{}, err
	}
	return fileSnapshot{cfg: cfg, hash: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
