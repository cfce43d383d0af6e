package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a config file and the spell catalogue it references, and
// calls a callback when either is modified. It uses polling (not fsnotify) to
// keep dependencies minimal.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtimes map[string]time.Time
	lastHash   [sha256.Size]byte
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

// snapshot is the parsed state of the watched files at one point in time.
type snapshot struct {
	cfg    *Config
	hash   [sha256.Size]byte
	mtimes map[string]time.Time
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine.
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

	snap, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtimes = snap.mtimes

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the watched files periodically.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads when any watched file has a new mtime and, if the combined
// content changed and is valid, calls onChange.
func (w *Watcher) check() {
	w.mu.Lock()
	mtimes := w.lastMtimes
	w.mu.Unlock()

	changed := false
	for p, last := range mtimes {
		info, err := os.Stat(p)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", p, "err", err)
			return
		}
		if !info.ModTime().Equal(last) {
			changed = true
		}
	}
	if !changed {
		return
	}

	snap, err := w.load()
	if err != nil {
		slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.hash == w.lastHash {
		// Touched but content is identical.
		w.lastMtimes = snap.mtimes
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtimes = snap.mtimes
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// load reads and validates the config file, then reads the catalogue file it
// points to. The returned hash covers both files. An unreadable catalogue is
// an error so the caller keeps the previous state.
func (w *Watcher) load() (snapshot, error) {
	data, cfgMtime, err := readFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	resolveCataloguePath(cfg, w.path)

	catData, catMtime, err := readFile(cfg.Catalogue.Path)
	if err != nil {
		return snapshot{}, fmt.Errorf("catalogue: %w", err)
	}
	catSum := sha256.Sum256(catData)
	cfg.Catalogue.Digest = hex.EncodeToString(catSum[:])

	h := sha256.New()
	h.Write(data)
	h.Write(catSum[:])
	var hash [sha256.Size]byte
	copy(hash[:], h.Sum(nil))

	return snapshot{
		cfg:  cfg,
		hash: hash,
		mtimes: map[string]time.Time{
			w.path:             cfgMtime,
			cfg.Catalogue.Path: catMtime,
		},
	}, nil
}

func readFile(path string) ([]byte, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}
