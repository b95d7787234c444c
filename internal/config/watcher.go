package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// fingerprint identifies one version of the config file on disk.
type fingerprint struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// sameStat reports whether info matches the file version f was taken from.
func (f fingerprint) sameStat(info os.FileInfo) bool {
	return f.size == info.Size() && f.modTime.Equal(info.ModTime())
}

// Watcher reloads a config file when it changes on disk and hands the old
// and new version to a callback. Invalid versions are logged and skipped;
// the last valid config stays current.
//
// Changes are found by polling. [Watcher.Check] forces an immediate look,
// for example on SIGHUP.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// checkMu serialises checks so callbacks never run concurrently.
	checkMu sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil; it is
// only called when the reloaded config differs from the current one in a
// field [Diff] compares.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, fp

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. A callback already running is not interrupted.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if info, err := os.Stat(w.path); err != nil {
				slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
				continue
			} else if w.lastSeen().sameStat(info) {
				continue
			}
			if _, err := w.Check(); err != nil {
				slog.Warn("config watcher: reload rejected", "path", w.path, "err", err)
			}
		}
	}
}

// Check reads the file now, regardless of its modification time. It
// reports whether a changed config was applied. On error the current
// config is kept.
func (w *Watcher) Check() (bool, error) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	cfg, fp, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	prev := w.seen
	w.seen = fp
	old := w.current
	if prev.sum == fp.sum {
		w.mu.Unlock()
		return false, nil
	}
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	if !d.HotReloadable() && len(d.RestartRequired) == 0 {
		slog.Debug("config watcher: file changed without effective changes", "path", w.path)
		return false, nil
	}

	slog.Info("config watcher: configuration reloaded", "path", w.path, "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func (w *Watcher) lastSeen() fingerprint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen
}

// read loads and validates the file. Relative paths inside it resolve
// against the file's directory, as with [Load].
func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := loadBytes(data, filepath.Dir(w.path))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
