package knownissues

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moolen/raid/internal/logging"
)

// WatcherConfig holds configuration for the Watcher.
type WatcherConfig struct {
	// FilePath is the custom known issues YAML file to watch.
	FilePath string

	// DebounceMillis coalesces change events within this period into one
	// reload. Default: 500ms
	DebounceMillis int
}

// Watcher reloads a custom known issues file into a Database when it
// changes. A file that fails to parse is logged and the previous issues
// stay in place.
type Watcher struct {
	config  WatcherConfig
	db      *Database
	logger  *logging.Logger
	cancel  context.CancelFunc
	stopped chan struct{}
	ready   chan struct{} // closed once fsnotify is watching
	mu      sync.Mutex

	debounceTimer *time.Timer
	reloads       int
}

// NewWatcher creates a watcher that loads config.FilePath into db.
func NewWatcher(db *Database, config WatcherConfig) (*Watcher, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}

	return &Watcher{
		config:  config,
		db:      db,
		logger:  logging.GetLogger("knownissues.watcher"),
		stopped: make(chan struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// Name implements lifecycle.Component.
func (w *Watcher) Name() string { return "known-issues-watcher" }

// Start loads the file once and then watches it in the background. It
// returns once the watch is established.
func (w *Watcher) Start(ctx context.Context) error {
	n, err := w.db.LoadFile(w.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to load initial known issues: %w", err)
	}
	w.logger.Info("loaded %d custom known issues from %s", n, w.config.FilePath)

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}
	return nil
}

// signalReady closes the ready channel exactly once
func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.Error("failed to watch %s: %v", w.config.FilePath, err)
		return
	}

	w.logger.Debug("watching %s for changes (debounce: %dms)", w.config.FilePath, w.config.DebounceMillis)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			// Atomic saves replace the inode; the watch has to be re-added.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error: %v", err)
		}
	}
}

// scheduleReload resets the debounce timer.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		w.reload,
	)
}

func (w *Watcher) reload() {
	n, err := w.db.LoadFile(w.config.FilePath)
	if err != nil {
		w.logger.Warn("failed to reload known issues (keeping previous): %v", err)
		return
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.logger.Info("reloaded %d custom known issues", n)
}

// Reloads returns the number of successful reloads after Start.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Stop stops watching and waits up to 5 seconds for the loop to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}
