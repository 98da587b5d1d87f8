// Package reminder fires notifications for tasks whose reminder time has
// passed.
//
// The scheduler polls: after a startup delay it scans once, then scans on every
// interval. A (task, reminder time) pair fires at most once while its dedupe
// record lives; records expire after the dedupe TTL and are never persisted,
// so a restarted process may notify again for reminders still in the past.
package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// Default tuning. A zero Interval or DedupeTTL falls back to its default; a
// zero StartupDelay scans immediately.
const (
	DefaultInterval     = time.Minute
	DefaultStartupDelay = 2 * time.Second
	DefaultDedupeTTL    = time.Hour
)

// TaskSource lists open tasks that carry a reminder.
type TaskSource interface {
	ReminderCandidates(ctx context.Context) ([]schema.Task, error)
}

// Config tunes the scheduler.
type Config struct {
	Interval     time.Duration
	StartupDelay time.Duration
	DedupeTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StartupDelay < 0 {
		c.StartupDelay = 0
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = DefaultDedupeTTL
	}
	return c
}

type dedupeKey struct {
	taskID string
	at     int64
}

// Scheduler scans tasks and notifies for due reminders.
type Scheduler struct {
	tasks    TaskSource
	notifier Notifier
	bus      *events.Bus
	logger   zerolog.Logger
	clock    Clock
	cfg      Config

	mu   sync.Mutex
	seen map[dedupeKey]time.Time // expiry per fired reminder

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// New creates a scheduler. clock may be nil for the wall clock and bus may be
// nil.
func New(tasks TaskSource, notifier Notifier, bus *events.Bus, clock Clock, cfg Config, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Scheduler{
		tasks:    tasks,
		notifier: notifier,
		bus:      bus,
		logger:   logger.With().Str("component", "reminder").Logger(),
		clock:    clock,
		cfg:      cfg.withDefaults(),
		seen:     make(map[dedupeKey]time.Time),
	}
}

// Scan notifies for every due reminder not already fired and returns how many
// fired.
func (s *Scheduler) Scan(ctx context.Context) (int, error) {
	now := s.clock.Now()
	s.purge(now)

	candidates, err := s.tasks.ReminderCandidates(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, task := range candidates {
		if task.IsCompleted() || task.Reminder == nil || task.Reminder.After(now) {
			continue
		}
		if !s.claim(dedupeKey{taskID: task.ID, at: task.Reminder.UnixMilli()}, now) {
			continue
		}

		n := notificationFor(task)
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Error().Err(err).Str("task", task.ID).Msg("failed to deliver reminder")
		}
		s.bus.Publish(events.ReminderFired{TaskID: task.ID, Title: task.Title, At: *task.Reminder})
		s.logger.Debug().Str("task", task.ID).Time("reminder", *task.Reminder).Msg("reminder fired")
		fired++
	}
	return fired, nil
}

// Run waits the startup delay, scans, then scans every interval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.runMu.Lock()
	if s.stopped {
		s.runMu.Unlock()
		return nil
	}
	s.cancel = cancel
	s.runMu.Unlock()

	select {
	case <-ctx.Done():
		return nil
	case <-s.clock.After(s.cfg.StartupDelay):
	}
	s.scanLogged(ctx)

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.scanLogged(ctx)
		}
	}
}

// Stop ends Run and prevents later runs. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scheduler) scanLogged(ctx context.Context) {
	if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("reminder scan failed")
	}
}

// claim records key and reports whether it was not yet present.
func (s *Scheduler) claim(key dedupeKey, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = now.Add(s.cfg.DedupeTTL)
	return true
}

func (s *Scheduler) purge(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, expires := range s.seen {
		if !now.Before(expires) {
			delete(s.seen, key)
		}
	}
}

func notificationFor(task schema.Task) Notification {
	body := task.Description
	if body == "" {
		body = "Task reminder"
	}
	return Notification{
		Title: task.Title,
		Body:  body,
		Tag:   "reminder-" + task.ID,
		Data: map[string]any{
			"taskId":   task.ID,
			"reminder": task.Reminder.UTC().Format(time.RFC3339),
		},
	}
}
