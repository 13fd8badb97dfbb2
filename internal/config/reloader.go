package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"surfwright/internal/logging"
)

// Reloader watches a config file for changes and merges the mutable
// fields (log level, lane/pool tuning) into Current() and the config
// passed to OnChange callbacks, while leaving restart-only fields (agent
// scope, state root, daemon bind/idle settings) exactly as they were at
// startup, logging any attempted change to them instead. It does not
// reconfigure the running logger, lane scheduler or runtime pool itself.
type Reloader struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	watcher *fsnotify.Watcher

	cbMu      sync.RWMutex
	callbacks []func(*Config)

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logging.Logger
}

// NewReloader builds a Reloader for path. logger may be nil, in which case
// reload activity is not logged.
func NewReloader(path string, logger *logging.Logger) *Reloader {
	return &Reloader{
		path:          path,
		debounceDelay: time.Second,
		logger:        logger,
	}
}

// Load performs the initial, non-watched load.
func (r *Reloader) Load() error {
	cfg, err := Load(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	return nil
}

// Current returns the most recently applied config.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// OnChange registers a callback fired after every hot-applied reload, with
// the merged config (restart-only fields held at their original values).
func (r *Reloader) OnChange(cb func(*Config)) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Start begins watching the config file's directory for writes, renames,
// and atomic-replace creates — the same directory-watch strategy the
// teacher's reloader uses to survive editors that write-then-rename.
func (r *Reloader) Start() error {
	if r.ctx != nil {
		return nil
	}
	if err := r.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = watcher

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return err
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.watch()
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (r *Reloader) Stop() error {
	if r.ctx == nil {
		return nil
	}
	r.cancel()
	if r.watcher != nil {
		r.watcher.Close()
	}
	r.debounceMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceMu.Unlock()
	r.wg.Wait()
	return nil
}

func (r *Reloader) watch() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.triggerReload()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			if r.logger != nil {
				r.logger.Error("config watcher error", zap.Error(err))
			}
		}
	}
}

func (r *Reloader) triggerReload() {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.debounceDelay, r.reload)
}

// reload re-reads the file, merges mutable fields into the running
// config, logs (but does not apply) any restart-only field that changed,
// and notifies callbacks with the merged result.
func (r *Reloader) reload() {
	next, err := Load(r.path)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("config reload failed", zap.Error(err))
		}
		return
	}

	r.mu.Lock()
	prev := r.cfg
	merged, deferred := mergeMutable(prev, next)
	r.cfg = merged
	r.mu.Unlock()

	if r.logger != nil {
		for _, field := range deferred {
			r.logger.Info("config field changed but is restart-only, ignoring until restart",
				zap.String("field", field))
		}
		r.logger.Info("config reloaded", zap.String("path", r.path))
	}

	r.cbMu.RLock()
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(merged)
	}
}

// mergeMutable takes next's mutable fields and prev's restart-only
// fields, returning the merged config plus the names of restart-only
// fields that differed between prev and next (and were therefore held
// back).
func mergeMutable(prev, next *Config) (*Config, []string) {
	if prev == nil {
		return next, nil
	}

	merged := *next
	var deferred []string

	if prev.AgentID != next.AgentID {
		deferred = append(deferred, "agent_id")
	}
	merged.AgentID = prev.AgentID

	if prev.WorkspaceDir != next.WorkspaceDir {
		deferred = append(deferred, "workspace_dir")
	}
	merged.WorkspaceDir = prev.WorkspaceDir

	if prev.StateDir != next.StateDir {
		deferred = append(deferred, "state_dir")
	}
	merged.StateDir = prev.StateDir

	if prev.Logging.Format != next.Logging.Format {
		deferred = append(deferred, "logging.format")
	}
	merged.Logging.Format = prev.Logging.Format

	if prev.Logging.Output != next.Logging.Output {
		deferred = append(deferred, "logging.output")
	}
	merged.Logging.Output = prev.Logging.Output

	if prev.Pool.Headless != next.Pool.Headless {
		deferred = append(deferred, "pool.headless")
	}
	merged.Pool.Headless = prev.Pool.Headless

	if prev.Daemon != next.Daemon {
		deferred = append(deferred, "daemon")
	}
	merged.Daemon = prev.Daemon

	return &merged, deferred
}
