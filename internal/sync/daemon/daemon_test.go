package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/cache"
	"github.com/mschirtzinger/flowsync/internal/sync/entity"
	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/identity"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

type fakeScheduler struct {
	running atomic.Bool
	stopped atomic.Int32
}

func (s *fakeScheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	<-ctx.Done()
	s.running.Store(false)
	return nil
}

func (s *fakeScheduler) Stop() { s.stopped.Add(1) }

type fakeCoordinator struct {
	started atomic.Int32
	stopped atomic.Int32
}

func (c *fakeCoordinator) Start(context.Context) error {
	c.started.Add(1)
	return nil
}

func (c *fakeCoordinator) Stop() { c.stopped.Add(1) }

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestCacheWatcher tests debounced change detection on the cache file.
func TestCacheWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowsync.db")

	w, err := NewCacheWatcher(path, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewCacheWatcher failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("expected error starting a running watcher")
	}

	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-w.Changes():
		t.Fatal("change reported for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}

	// A burst of writes collapses into one change.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte(i)}, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(path+"-wal", []byte("wal"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-w.Changes():
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported for cache writes")
	}
	select {
	case <-w.Changes():
		t.Error("burst reported more than once")
	case <-time.After(200 * time.Millisecond):
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher still running after Stop")
	}
	if _, ok := <-w.Changes(); ok {
		t.Error("Changes channel not closed after Stop")
	}
}

// TestDaemon_Lifecycle tests that every component is started and stopped.
func TestDaemon_Lifecycle(t *testing.T) {
	sched := &fakeScheduler{}
	coord := &fakeCoordinator{}
	d := New(Config{
		Bus:         events.New(),
		Scheduler:   sched,
		Coordinator: coord,
		Logger:      zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	eventually(t, "scheduler to run", sched.running.Load)
	if coord.started.Load() != 1 {
		t.Errorf("coordinator started %d times", coord.started.Load())
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("expected error starting the daemon twice")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	if sched.running.Load() {
		t.Error("scheduler still running")
	}
	if sched.stopped.Load() != 1 || coord.stopped.Load() != 1 {
		t.Errorf("stops: scheduler %d, coordinator %d", sched.stopped.Load(), coord.stopped.Load())
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
	if sched.stopped.Load() != 1 {
		t.Error("Stop is not idempotent")
	}
}

// TestDaemon_StopBeforeStart tests that a stopped daemon does not start.
func TestDaemon_StopBeforeStart(t *testing.T) {
	coord := &fakeCoordinator{}
	d := New(Config{Coordinator: coord, Logger: zerolog.Nop()})
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if coord.started.Load() != 0 {
		t.Error("coordinator started after Stop")
	}
}

// TestDaemon_CacheWritesFromAnotherProcess tests that writes through a second
// cache handle surface as DataUpdated events with source "cache".
func TestDaemon_CacheWritesFromAnotherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowsync.db")

	own, err := cache.Open(path)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	defer own.Close()

	bus := events.New()
	var (
		mu      sync.Mutex
		updates []events.DataUpdated
	)
	events.Subscribe(bus, func(e events.DataUpdated) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, e)
	})

	d := New(Config{Bus: bus, CachePath: path, DebounceInterval: 50 * time.Millisecond, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	time.Sleep(100 * time.Millisecond)

	other, err := cache.Open(path)
	if err != nil {
		t.Fatalf("failed to open second cache handle: %v", err)
	}
	store := entity.NewStore(other, events.New(), zerolog.Nop())
	if _, err := store.Tasks().Create(context.Background(), schema.Task{Title: "written by the CLI"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_ = other.Close()

	eventually(t, "cache DataUpdated event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range updates {
			if e.Source == events.SourceCache {
				return true
			}
		}
		return false
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned %v", err)
	}
}

// TestDaemon_FollowsSignOutFromAnotherProcess tests that a sign-out through a
// second cache handle reaches the daemon's identity listeners, so the
// realtime subscription for the old account is dropped.
func TestDaemon_FollowsSignOutFromAnotherProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "flowsync.db")
	cfg := identity.Config{Secret: "daemon-test-secret"}

	own, err := cache.Open(path)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	defer own.Close()
	ids := identity.New(own, cfg)
	if _, err := ids.EnsureAnonymous(ctx); err != nil {
		t.Fatalf("EnsureAnonymous failed: %v", err)
	}
	token, err := ids.Issue("user-A", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := ids.SignIn(ctx, token); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	var (
		mu          sync.Mutex
		transitions [][2]identity.State
	)
	ids.OnChange(func(prev, cur identity.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, [2]identity.State{prev, cur})
	})

	d := New(Config{
		Bus:              events.New(),
		Identity:         ids,
		CachePath:        path,
		DebounceInterval: 50 * time.Millisecond,
		Logger:           zerolog.Nop(),
	})
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	time.Sleep(100 * time.Millisecond)

	other, err := cache.Open(path)
	if err != nil {
		t.Fatalf("failed to open second cache handle: %v", err)
	}
	cli := identity.New(other, cfg)
	if _, err := cli.EnsureAnonymous(ctx); err != nil {
		t.Fatalf("EnsureAnonymous failed: %v", err)
	}
	out, err := cli.SignOut(ctx)
	if err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	_ = other.Close()

	eventually(t, "identity reload", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 1
	})
	mu.Lock()
	prev, cur := transitions[0][0], transitions[0][1]
	mu.Unlock()
	if prev.ID != "user-A" || !prev.Durable || cur.ID != out.ID || cur.Durable {
		t.Errorf("transition = %+v -> %+v", prev, cur)
	}
	if got := ids.Current(); got.ID != out.ID {
		t.Errorf("daemon identity = %+v, want %s", got, out.ID)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned %v", err)
	}
}
