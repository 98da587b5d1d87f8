package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	r, err := NewRedis("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, s
}

func TestNewRedis(t *testing.T) {
	r, _ := setupTestRedis(t)
	if err := r.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis("not a url"); err == nil {
		t.Error("expected error for bad url")
	}
}

func TestRedisDocuments_PutGetList(t *testing.T) {
	r, _ := setupTestRedis(t)
	docs := r.Documents()
	ctx := context.Background()
	coll := CollectionPath("user-1", "tasks")

	if err := docs.Put(ctx, coll, "b", Document{"id": "b", "title": "second"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := docs.Put(ctx, coll, "a", Document{"id": "a", "title": "first"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := docs.Put(ctx, coll, "a", Document{"id": "a", "title": "replaced"}); err != nil {
		t.Fatalf("Put replace failed: %v", err)
	}

	got, err := docs.Get(ctx, coll, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["title"] != "replaced" {
		t.Errorf("expected replaced title, got %v", got["title"])
	}

	list, err := docs.List(ctx, coll)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID() != "a" || list[1].ID() != "b" {
		t.Errorf("List returned %v", list)
	}

	other, err := docs.List(ctx, CollectionPath("user-2", "tasks"))
	if err != nil {
		t.Fatalf("List other failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected isolated collections, got %v", other)
	}
}

func TestRedisDocuments_GetMissing(t *testing.T) {
	r, _ := setupTestRedis(t)

	_, err := r.Documents().Get(context.Background(), "users/u/tasks", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisDocuments_Delete(t *testing.T) {
	r, _ := setupTestRedis(t)
	docs := r.Documents()
	ctx := context.Background()

	if err := docs.Put(ctx, "c", "x", Document{"id": "x"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := docs.Delete(ctx, "c", "x"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := docs.Delete(ctx, "c", "x"); err != nil {
		t.Errorf("Delete of missing document failed: %v", err)
	}
	if _, err := docs.Get(ctx, "c", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisDocuments_Subscribe(t *testing.T) {
	r, _ := setupTestRedis(t)
	docs := r.Documents()
	ctx := context.Background()

	changes := make(chan Change, 4)
	cancel, err := docs.Subscribe(ctx, "users/u/tasks", func(c Change) { changes <- c }, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if err := docs.Put(ctx, "users/u/tasks", "t1", Document{"id": "t1"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := docs.Put(ctx, "users/u/projects", "p1", Document{"id": "p1"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := docs.Delete(ctx, "users/u/tasks", "t1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	want := []Change{
		{Collection: "users/u/tasks", ID: "t1"},
		{Collection: "users/u/tasks", ID: "t1", Deleted: true},
	}
	for i, w := range want {
		select {
		case got := <-changes:
			if got != w {
				t.Errorf("change %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for change %d", i)
		}
	}

	cancel()
	cancel()
}

func TestRedisPaths_ReadWriteSubscribe(t *testing.T) {
	r, _ := setupTestRedis(t)
	paths := r.Paths()
	ctx := context.Background()
	path := "shared/task/abc-def-ghi-jkl"

	if _, err := paths.Read(ctx, path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	values := make(chan json.RawMessage, 4)
	cancel, err := paths.Subscribe(ctx, path, func(v json.RawMessage) { values <- v })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if err := paths.Write(ctx, path, json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := paths.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != `{"v":1}` {
		t.Errorf("Read = %s", got)
	}

	if err := paths.Delete(ctx, path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	select {
	case v := <-values:
		if string(v) != `{"v":1}` {
			t.Errorf("first notification = %s", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write notification")
	}
	select {
	case v := <-values:
		if v != nil {
			t.Errorf("delete notification = %s, want nil", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delete notification")
	}
}

func TestRedisPaths_RejectsInvalidJSON(t *testing.T) {
	r, _ := setupTestRedis(t)
	if err := r.Paths().Write(context.Background(), "p", json.RawMessage(`{`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestRedis_PermissionDenied(t *testing.T) {
	s := miniredis.RunT(t)
	s.RequireAuth("secret")

	_, err := NewRedis("redis://" + s.Addr())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestRedis_Unavailable(t *testing.T) {
	r, s := setupTestRedis(t)
	s.Close()

	err := r.Documents().Put(context.Background(), "c", "x", Document{"id": "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestRedisDocuments_SubscribeInterrupted(t *testing.T) {
	defer func(d time.Duration) { resubscribeDelay = d }(resubscribeDelay)
	resubscribeDelay = 20 * time.Millisecond

	r, s := setupTestRedis(t)
	docs := r.Documents()
	ctx := context.Background()

	changes := make(chan Change, 4)
	errs := make(chan error, 4)
	cancel, err := docs.Subscribe(ctx, "users/u/tasks",
		func(c Change) { changes <- c },
		func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	s.Close()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("interruption error = %v, want ErrUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interruption was not reported")
	}

	if err := s.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	select {
	case got := <-changes:
		if !got.Resync || got.Collection != "users/u/tasks" {
			t.Errorf("first change after restart = %+v, want resync", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("resync was not delivered")
	}

	if err := docs.Put(ctx, "users/u/tasks", "t1", Document{"id": "t1"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	select {
	case got := <-changes:
		if got.ID != "t1" || got.Resync {
			t.Errorf("change = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not resume")
	}
	if len(errs) != 0 {
		t.Errorf("outage reported %d extra times", len(errs))
	}
}
