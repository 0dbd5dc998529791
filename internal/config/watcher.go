package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ReloadFunc receives the newly loaded config and how it differs from the
// previous one. It is only called for valid configs that differ semantically.
type ReloadFunc func(next *Config, diff ConfigDiff)

// Watcher polls a config file and hands valid changes to a [ReloadFunc].
// A change is detected by mtime first and confirmed by content hash, so
// touching the file or rewriting it byte for byte is a no-op.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   func(string) (string, bool)
	onReload ReloadFunc

	snap atomic.Pointer[snapshot]

	pollMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type snapshot struct {
	cfg   *Config
	mtime time.Time
	sum   [sha256.Size]byte
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

// WithEnv applies [ApplyEnv] with lookup to every config the watcher loads,
// including the initial one.
func WithEnv(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// Watch loads path once and then polls it until ctx is cancelled or Stop is
// called. The initial load must succeed; later invalid files are logged and
// skipped so the last good config stays in effect.
func Watch(ctx context.Context, path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	s, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.snap.Store(s)

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config { return w.snap.Load().cfg }

// Stop ends polling and waits for an in-flight reload to finish. Safe to call
// more than once, but not from inside the ReloadFunc.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.Poll(); err != nil {
				slog.Warn("config watcher: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Poll checks the file once and reports whether a new config was accepted.
// The background loop calls it on every tick; it is exported so callers can
// force a check, for example on SIGHUP.
func (w *Watcher) Poll() (bool, error) {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	prev := w.snap.Load()
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if info.ModTime().Equal(prev.mtime) {
		return false, nil
	}

	next, err := w.read()
	if err != nil {
		return false, err
	}
	if next.sum == prev.sum {
		w.snap.Store(&snapshot{cfg: prev.cfg, mtime: next.mtime, sum: prev.sum})
		return false, nil
	}

	w.snap.Store(next)
	diff := Diff(prev.cfg, next.cfg)
	if diff.Empty() {
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return false, nil
	}

	slog.Info("config watcher: configuration reloaded", "path", w.path,
		"hot_reloadable", diff.HotReloadable())
	if w.onReload != nil {
		w.onReload(next.cfg, diff)
	}
	return true, nil
}

func (w *Watcher) read() (*snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if w.lookup != nil {
		ApplyEnv(cfg, w.lookup)
	}
	return &snapshot{cfg: cfg, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
