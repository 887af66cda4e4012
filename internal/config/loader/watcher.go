package loader

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"roboai/internal/config"
	"roboai/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Flags are the settings that may change while the process runs.
type Flags struct {
	AutoTrade bool
}

// Snapshot is a read-only copy of the current flags.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Source   string
	Flags    Flags
}

// ChangeListener is invoked on its own goroutine after every change.
type ChangeListener func(Snapshot)

// Watcher owns the live trading toggles. File edits are picked up through
// fsnotify; SetAutoTrade is the manual override used by the HTTP API.
type Watcher struct {
	path string
	log  *slog.Logger

	autoTrade atomic.Bool

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// Static builds a watcher that only changes through SetAutoTrade.
func Static(initial Flags, log *slog.Logger) *Watcher {
	w := &Watcher{log: logger.Component(log, "config_watch")}
	w.store(initial, "static")
	return w
}

// NewWatcher seeds the flags from initial and re-reads path whenever the
// file changes. A reload that fails validation is logged and ignored.
func NewWatcher(path string, initial Flags, log *slog.Logger) (*Watcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	w := &Watcher{path: path, log: logger.Component(log, "config_watch")}
	w.store(initial, "load")

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config for watch failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			w.log.Error("config reload failed", "file", evt.Name, "error", err)
		}
	})
	v.WatchConfig()
	return w, nil
}

// AutoTrade is read on every order placement.
func (w *Watcher) AutoTrade() bool {
	if w == nil {
		return false
	}
	return w.autoTrade.Load()
}

func (w *Watcher) SetAutoTrade(on bool, source string) {
	if w == nil {
		return
	}
	w.mu.RLock()
	flags := w.snapshot.Flags
	w.mu.RUnlock()
	flags.AutoTrade = on
	w.apply(flags, source)
}

func (w *Watcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Subscribe registers fn and immediately delivers the current snapshot.
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	snap := w.snapshot
	w.mu.Unlock()
	go w.deliver(fn, snap)
}

func (w *Watcher) reload() error {
	cfg, err := config.Load(w.path)
	if err != nil {
		return err
	}
	w.apply(Flags{AutoTrade: cfg.Trading.AutoTrade}, "file")
	return nil
}

func (w *Watcher) apply(flags Flags, source string) {
	prev := w.Snapshot().Flags
	if prev == flags {
		return
	}
	w.store(flags, source)
	w.log.Info("trading flags changed", "auto_trade", flags.AutoTrade, "previous", prev.AutoTrade, "source", source)
	w.notify()
}

func (w *Watcher) store(flags Flags, source string) {
	w.mu.Lock()
	w.snapshot = Snapshot{
		Version:  w.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Source:   source,
		Flags:    flags,
	}
	w.autoTrade.Store(flags.AutoTrade)
	w.mu.Unlock()
}

func (w *Watcher) notify() {
	w.mu.RLock()
	snap := w.snapshot
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		go w.deliver(fn, snap)
	}
}

func (w *Watcher) deliver(fn ChangeListener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("config listener panic", "panic", r)
		}
	}()
	fn(snap)
}
