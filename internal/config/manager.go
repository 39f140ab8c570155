package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs the burst of events editors emit on save.
const reloadDebounce = 500 * time.Millisecond

// Manager owns the live Config. Readers take lock-free snapshots through an
// atomic pointer; the watcher swaps in validated replacements and a broken
// file never displaces the running one.
type Manager struct {
	current    atomic.Pointer[Config]
	generation atomic.Uint64
	path       string
	watcher    *fsnotify.Watcher
	subs       []func(*Config)
	logger     *slog.Logger
}

// NewManager loads the file at path and fails fast if it does not validate.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path, logger: logger}
	m.current.Store(cfg)
	return m, nil
}

// Get returns the current snapshot. Callers must treat it as read-only.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Generation counts successful reloads since startup.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// OnChange subscribes fn to successful reloads. Subscribe before Watch; the
// slice is not guarded afterwards.
func (m *Manager) OnChange(fn func(*Config)) {
	m.subs = append(m.subs, fn)
}

// Reload re-reads the file, swaps it in if it validates, and notifies
// subscribers. On error the running snapshot stays in place.
func (m *Manager) Reload() error {
	next, err := LoadFromFile(m.path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", m.path, err)
	}

	m.current.Store(next)
	gen := m.generation.Add(1)
	m.logger.Info("config swapped",
		"path", m.path, "generation", gen, "providers", len(next.Providers))

	for _, fn := range m.subs {
		fn(next)
	}
	return nil
}

// Watch reloads on file writes until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.path); err != nil {
		_ = w.Close()
		return err
	}
	m.watcher = w

	go func() {
		defer w.Close()

		// The timer stays disarmed until a write event arms it, so a
		// quiet file costs nothing.
		debounce := time.NewTimer(reloadDebounce)
		if !debounce.Stop() {
			<-debounce.C
		}
		defer debounce.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-debounce.C:
				if err := m.Reload(); err != nil {
					m.logger.Error("keeping previous config", "error", err)
				}

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					debounce.Reset(reloadDebounce)
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Warn("config watch error", "path", m.path, "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
