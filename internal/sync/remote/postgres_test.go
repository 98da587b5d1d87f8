package remote

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// setupTestPostgres connects to FLOWSYNC_TEST_POSTGRES_URL or skips.
func setupTestPostgres(t *testing.T) *PostgresDocuments {
	url := os.Getenv("FLOWSYNC_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("FLOWSYNC_TEST_POSTGRES_URL not set")
	}

	s, err := NewPostgres(context.Background(), url)
	if err != nil {
		t.Fatalf("NewPostgres failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresDocuments_RoundTrip(t *testing.T) {
	s := setupTestPostgres(t)
	ctx := context.Background()
	coll := CollectionPath(uuid.NewString(), "tasks")

	if _, err := s.Get(ctx, coll, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	changes := make(chan Change, 4)
	cancel, err := s.Subscribe(ctx, coll, func(c Change) { changes <- c }, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if err := s.Put(ctx, coll, "t2", Document{"id": "t2", "title": "b"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, coll, "t1", Document{"id": "t1", "title": "a"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	list, err := s.List(ctx, coll)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID() != "t1" {
		t.Errorf("List = %v", list)
	}

	if err := s.Delete(ctx, coll, "t1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case c := <-changes:
			if c.Collection != coll {
				t.Errorf("change for wrong collection: %+v", c)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for change %d", i)
		}
	}

	cancel()
	cancel()
}

func TestPostgres_Unavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewPostgres(ctx, "postgres://flowsync@127.0.0.1:1/flowsync?connect_timeout=1")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestPostgresDocuments_SubscribeReconnects(t *testing.T) {
	defer func(d time.Duration) { resubscribeDelay = d }(resubscribeDelay)
	resubscribeDelay = 50 * time.Millisecond

	s := setupTestPostgres(t)
	ctx := context.Background()
	coll := CollectionPath(uuid.NewString(), "tasks")

	changes := make(chan Change, 4)
	errs := make(chan error, 4)
	cancel, err := s.Subscribe(ctx, coll,
		func(c Change) { changes <- c },
		func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if _, err := s.pool.Exec(ctx, `
		SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE datname = current_database() AND pid <> pg_backend_pid()
		AND query LIKE 'LISTEN %'`); err != nil {
		t.Fatalf("failed to terminate listen connection: %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("interruption error = %v, want ErrUnavailable", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lost connection was not reported")
	}
	select {
	case c := <-changes:
		if !c.Resync || c.Collection != coll {
			t.Errorf("first change after reconnect = %+v, want resync", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("resync was not delivered")
	}

	if err := s.Put(ctx, coll, "t1", Document{"id": "t1"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	select {
	case c := <-changes:
		if c.ID != "t1" {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not resume")
	}
}
