package daemon

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches bursts of cache writes into one change.
const DefaultDebounce = 200 * time.Millisecond

// CacheWatcher reports writes to the Local Cache file made by any process.
// It watches the cache's directory and matches the database file and its
// -wal and -journal side files.
type CacheWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration

	changes chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewCacheWatcher creates a watcher for the cache file at path.
// The watcher must be started with Start() before it will emit changes.
func NewCacheWatcher(path string, debounce time.Duration) (*CacheWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &CacheWatcher{
		watcher:  watcher,
		path:     abs,
		debounce: debounce,
		changes:  make(chan struct{}, 1),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the cache directory.
func (cw *CacheWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch cache directory %s: %w", dir, err)
	}

	cw.running = true
	cw.wg.Add(1)
	go cw.processEvents()
	return nil
}

// Stop stops watching and blocks until the event loop has exited. The
// Changes and Errors channels are closed afterwards.
func (cw *CacheWatcher) Stop() error {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.done)
	err := cw.watcher.Close()
	cw.wg.Wait()

	close(cw.changes)
	close(cw.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Changes emits once per debounced burst of writes.
func (cw *CacheWatcher) Changes() <-chan struct{} {
	return cw.changes
}

// Errors emits watcher errors.
func (cw *CacheWatcher) Errors() <-chan error {
	return cw.errors
}

// IsRunning returns true if the watcher is currently running.
func (cw *CacheWatcher) IsRunning() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.running
}

func (cw *CacheWatcher) processEvents() {
	defer cw.wg.Done()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-cw.done:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !cw.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(cw.debounce)
			} else {
				timer.Reset(cw.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			select {
			case cw.changes <- struct{}{}:
			default:
				// A change is already pending.
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case cw.errors <- err:
			default:
			}
		}
	}
}

func (cw *CacheWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	if name == cw.path {
		return true
	}
	return name == cw.path+"-wal" || name == cw.path+"-journal"
}
