package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Snapshot is an atomically-swappable pointer to the currently active
// Config, read by every component that needs live tunables without
// taking a lock.
type Snapshot struct {
	v atomic.Pointer[Config]
}

// NewSnapshot builds a Snapshot holding the given initial config.
func NewSnapshot(initial Config) *Snapshot {
	s := &Snapshot{}
	s.v.Store(&initial)
	return s
}

// Get returns the currently active config.
func (s *Snapshot) Get() Config {
	return *s.v.Load()
}

func (s *Snapshot) set(c Config) {
	s.v.Store(&c)
}

// Watcher hot-reloads a config file, swapping the Snapshot's contents
// whenever the file changes, per the fsnotify-driven pattern used
// elsewhere in the pack for runtime config reload.
type Watcher struct {
	path     string
	snapshot *Snapshot

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher loads path's initial config into a fresh Snapshot and
// returns a Watcher ready to start hot-reloading it.
func NewWatcher(path string) (*Watcher, *Snapshot, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	snapshot := NewSnapshot(cfg)
	return &Watcher{path: path, snapshot: snapshot}, snapshot, nil
}

// Run watches the config file's directory for writes and reloads on
// each one, until ctx is cancelled. Reload errors are sent to errs
// rather than applied, leaving the last-good Snapshot in place.
func (w *Watcher) Run(ctx context.Context, errs chan<- error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Name != w.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					select {
					case errs <- err:
					default:
					}
					continue
				}
				w.snapshot.set(cfg)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
				}
			}
		}
	}()
	return nil
}

// Stop releases the underlying file watcher, if Run has been called.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
