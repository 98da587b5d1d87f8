// Package daemon hosts the long-running parts of flowsync.
//
// The daemon:
//  1. Starts the dashboard event feed when one is configured
//  2. Starts the mirror coordinator, which drives the realtime listener
//     across identity transitions
//  3. Runs the reminder scheduler
//  4. Watches the Local Cache file, adopts sign-ins and sign-outs made by
//     other processes, and announces their writes as DataUpdated events
//     with source "cache"
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/cache"
	"github.com/mschirtzinger/flowsync/internal/sync/dashboard"
	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/identity"
)

// Scheduler is the reminder scheduler.
type Scheduler interface {
	Run(ctx context.Context) error
	Stop()
}

// Coordinator keeps remote subscriptions in step with the identity.
type Coordinator interface {
	Start(ctx context.Context) error
	Stop()
}

// IdentityReloader re-reads the persisted identity.
type IdentityReloader interface {
	Reload(ctx context.Context) (identity.State, error)
}

// Config holds the daemon's collaborators. Every component is optional.
type Config struct {
	Bus         *events.Bus
	Scheduler   Scheduler
	Coordinator Coordinator
	Dashboard   *dashboard.Server
	Handler     *dashboard.Handler

	// Identity is reloaded on every cache change so the Coordinator follows
	// sign-ins and sign-outs made by other flow commands.
	Identity IdentityReloader

	// CachePath is the Local Cache file to watch. Empty or ":memory:"
	// disables the watcher.
	CachePath string

	// DebounceInterval batches rapid cache writes into one event.
	DebounceInterval time.Duration

	Logger zerolog.Logger
}

// Daemon orchestrates the long-running components.
type Daemon struct {
	cfg    Config
	logger zerolog.Logger

	watcher *CacheWatcher
	detach  func()

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. Use Start() to begin.
func New(cfg Config) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "daemon").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs every configured component. This blocks until ctx is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	if d.ctx.Err() != nil {
		return nil
	}
	d.logger.Info().Msg("starting daemon")

	if err := d.startComponents(); err != nil {
		_ = d.Stop()
		return err
	}

	select {
	case <-ctx.Done():
		d.logger.Info().Msg("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

func (d *Daemon) startComponents() error {
	if d.cfg.Dashboard != nil {
		if err := d.cfg.Dashboard.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		if d.cfg.Handler != nil && d.cfg.Bus != nil {
			detach := d.cfg.Handler.Attach(d.cfg.Bus)
			d.mu.Lock()
			d.detach = detach
			d.mu.Unlock()
		}
	}

	if d.cfg.Coordinator != nil {
		if err := d.cfg.Coordinator.Start(d.ctx); err != nil {
			return fmt.Errorf("failed to start coordinator: %w", err)
		}
	}

	if d.cfg.CachePath != "" && d.cfg.CachePath != cache.MemoryPath {
		w, err := NewCacheWatcher(d.cfg.CachePath, d.cfg.DebounceInterval)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		d.mu.Lock()
		d.watcher = w
		d.mu.Unlock()
		d.wg.Add(1)
		go d.forwardCacheChanges(w)
	}

	if d.cfg.Scheduler != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.cfg.Scheduler.Run(d.ctx); err != nil {
				d.logger.Error().Err(err).Msg("reminder scheduler stopped")
			}
		}()
	}

	d.logger.Info().
		Bool("dashboard", d.cfg.Dashboard != nil).
		Bool("mirror", d.cfg.Coordinator != nil).
		Bool("reminders", d.cfg.Scheduler != nil).
		Bool("cache_watch", d.cfg.CachePath != "" && d.cfg.CachePath != cache.MemoryPath).
		Msg("daemon running")
	return nil
}

// Stop shuts every component down. Safe to call more than once.
func (d *Daemon) Stop() error {
	var errs []error
	d.stopOnce.Do(func() {
		d.logger.Info().Msg("stopping daemon")
		d.cancel()

		d.mu.Lock()
		watcher, detach := d.watcher, d.detach
		d.mu.Unlock()

		if d.cfg.Scheduler != nil {
			d.cfg.Scheduler.Stop()
		}
		if d.cfg.Coordinator != nil {
			d.cfg.Coordinator.Stop()
		}
		if watcher != nil {
			if err := watcher.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if detach != nil {
			detach()
		}
		if d.cfg.Dashboard != nil {
			if err := d.cfg.Dashboard.Stop(); err != nil {
				errs = append(errs, err)
			}
		}

		d.wg.Wait()
		d.logger.Info().Msg("daemon stopped")
	})
	return errors.Join(errs...)
}

// forwardCacheChanges reloads the identity and publishes a DataUpdated event
// per debounced burst of cache writes. The Kind is empty because any collection may have changed.
func (d *Daemon) forwardCacheChanges(w *CacheWatcher) {
	defer d.wg.Done()

	changes, errs := w.Changes(), w.Errors()
	for changes != nil || errs != nil {
		select {
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			d.logger.Debug().Msg("cache changed on disk")
			if d.cfg.Identity != nil {
				if _, err := d.cfg.Identity.Reload(d.ctx); err != nil {
					d.logger.Warn().Err(err).Msg("identity reload failed")
				}
			}
			d.cfg.Bus.Publish(events.DataUpdated{Source: events.SourceCache})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn().Err(err).Msg("cache watcher error")
		}
	}
}
