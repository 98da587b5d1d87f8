package mirror

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/cache"
	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/identity"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

const testSecret = "mirror-test-secret"

// memLocal is an in-memory LocalStore.
type memLocal struct {
	mu        sync.Mutex
	data      map[schema.Kind][]remote.Document
	snapshots int
	replaced  map[schema.Kind]string
}

func newMemLocal() *memLocal {
	return &memLocal{
		data:     make(map[schema.Kind][]remote.Document),
		replaced: make(map[schema.Kind]string),
	}
}

func (l *memLocal) Snapshot(_ context.Context, kind schema.Kind) ([]remote.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots++
	return append([]remote.Document(nil), l.data[kind]...), nil
}

func (l *memLocal) Replace(_ context.Context, kind schema.Kind, docs []remote.Document, source string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[kind] = append([]remote.Document(nil), docs...)
	l.replaced[kind] = source
	return nil
}

type fixture struct {
	mirror *Mirror
	local  *memLocal
	ids    *identity.Provider
	docs   *remote.RedisDocuments
	redis  *miniredis.Miniredis
	bus    *events.Bus
}

func setup(t *testing.T) *fixture {
	t.Helper()

	s := miniredis.RunT(t)
	r, err := remote.NewRedis("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	c, err := cache.Open(cache.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ids := identity.New(c, identity.Config{Secret: testSecret})
	if _, err := ids.EnsureAnonymous(context.Background()); err != nil {
		t.Fatalf("EnsureAnonymous failed: %v", err)
	}

	bus := events.New()
	m := New(Config{Docs: r.Documents(), Identity: ids, Bus: bus, Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = m.Close() })

	local := newMemLocal()
	m.SetLocal(local)

	return &fixture{mirror: m, local: local, ids: ids, docs: r.Documents(), redis: s, bus: bus}
}

func (f *fixture) signIn(t *testing.T, subject string) {
	t.Helper()
	token, err := f.ids.Issue(subject, "", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := f.ids.SignIn(context.Background(), token); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
}

func TestStripAbsent(t *testing.T) {
	in := remote.Document{
		"id":        "t1",
		"projectId": nil,
		"subTasks": []any{
			map[string]any{"id": "s1", "note": nil},
			nil,
		},
		"nested": map[string]any{"a": nil, "b": map[string]any{"c": nil, "d": 1}},
	}
	want := remote.Document{
		"id":       "t1",
		"subTasks": []any{map[string]any{"id": "s1"}},
		"nested":   map[string]any{"b": map[string]any{"d": 1}},
	}

	got := StripDocument(in)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StripDocument() = %#v\nwant %#v", got, want)
	}
	if _, ok := in["projectId"]; !ok {
		t.Error("StripDocument modified its input")
	}
}

func TestPush_StripsAbsentBeforeTransmit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	task := schema.Task{ID: "t1", Title: "write report", Status: schema.StatusPending, CreatedAt: time.Now()}
	fields, err := schema.ToMap(task)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if v, ok := fields["dueDate"]; !ok || v != nil {
		t.Fatalf("expected dueDate null before strip, got %v", fields["dueDate"])
	}

	if err := f.mirror.Push(ctx, "user-1", schema.KindTask, []remote.Document{fields}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	stored, err := f.docs.Get(ctx, remote.CollectionPath("user-1", "tasks"), "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	for _, key := range []string{"dueDate", "reminder", "projectId", "completedAt"} {
		if _, ok := stored[key]; ok {
			t.Errorf("remote document still has %s", key)
		}
	}
	if stored["title"] != "write report" {
		t.Errorf("title = %v", stored["title"])
	}
	if f.mirror.Status().LastPushAt == nil {
		t.Error("LastPushAt not recorded")
	}
}

func TestReconcile_Policy(t *testing.T) {
	tests := []struct {
		name       string
		local      []remote.Document
		remote     []remote.Document
		want       Action
		wantLocal  []string
		wantRemote []string
	}{
		{
			name:       "local only pushes",
			local:      []remote.Document{{"id": "l1"}},
			want:       ActionPushed,
			wantLocal:  []string{"l1"},
			wantRemote: []string{"l1"},
		},
		{
			name:       "remote only pulls",
			remote:     []remote.Document{{"id": "r1"}},
			want:       ActionPulled,
			wantLocal:  []string{"r1"},
			wantRemote: []string{"r1"},
		},
		{
			name:       "both non-empty remote wins",
			local:      []remote.Document{{"id": "l1"}},
			remote:     []remote.Document{{"id": "r1"}},
			want:       ActionRemoteWins,
			wantLocal:  []string{"r1"},
			wantRemote: []string{"r1"},
		},
		{
			name: "both empty does nothing",
			want: ActionNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			coll := remote.CollectionPath("user-1", "tasks")

			f.local.data[schema.KindTask] = tt.local
			for _, doc := range tt.remote {
				if err := f.docs.Put(ctx, coll, doc.ID(), doc); err != nil {
					t.Fatalf("seed Put failed: %v", err)
				}
			}

			report, err := f.mirror.Reconcile(ctx, "user-1")
			if err != nil {
				t.Fatalf("Reconcile failed: %v", err)
			}
			if report[schema.KindTask] != tt.want {
				t.Errorf("task action = %s, want %s", report[schema.KindTask], tt.want)
			}
			if report[schema.KindProject] != ActionNone {
				t.Errorf("project action = %s, want none", report[schema.KindProject])
			}

			if got := ids(f.local.data[schema.KindTask]); !equalIDs(got, tt.wantLocal) {
				t.Errorf("local = %v, want %v", got, tt.wantLocal)
			}
			remoteDocs, err := f.docs.List(ctx, coll)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if got := ids(remoteDocs); !equalIDs(got, tt.wantRemote) {
				t.Errorf("remote = %v, want %v", got, tt.wantRemote)
			}
			if tt.want == ActionPulled || tt.want == ActionRemoteWins {
				if f.local.replaced[schema.KindTask] != events.SourceRemote {
					t.Errorf("replace source = %q", f.local.replaced[schema.KindTask])
				}
			}
		})
	}
}

func TestPush_NoRemote(t *testing.T) {
	m := New(Config{Logger: zerolog.Nop()})
	defer m.Close()

	err := m.Push(context.Background(), "u", schema.KindTask, []remote.Document{{"id": "x"}})
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if m.Enabled() {
		t.Error("mirror without remote reports enabled")
	}

	m.Schedule(schema.KindTask, remote.Document{"id": "x"})
	m.Wait()
}

func TestSchedule_AnonymousIsNoop(t *testing.T) {
	f := setup(t)
	anon := f.ids.Current()

	f.mirror.Schedule(schema.KindTask, remote.Document{"id": "t1"})
	f.mirror.Wait()

	docs, err := f.docs.List(context.Background(), remote.CollectionPath(anon.ID, "tasks"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("anonymous identity pushed %d documents", len(docs))
	}
}

func TestSchedule_PreservesOrder(t *testing.T) {
	f := setup(t)
	f.signIn(t, "user-7")
	ctx := context.Background()
	coll := remote.CollectionPath("user-7", "tasks")

	for i := 1; i <= 20; i++ {
		f.mirror.Schedule(schema.KindTask, remote.Document{"id": "t1", "rev": float64(i)})
	}
	f.mirror.Schedule(schema.KindTask, remote.Document{"id": "t2"})
	f.mirror.ScheduleDelete(schema.KindTask, "t2")
	f.mirror.Wait()

	doc, err := f.docs.Get(ctx, coll, "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc["rev"] != float64(20) {
		t.Errorf("rev = %v, want 20 (last scheduled)", doc["rev"])
	}
	if _, err := f.docs.Get(ctx, coll, "t2"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("t2 should be deleted, got %v", err)
	}
}

func TestSchedule_EncodesEntities(t *testing.T) {
	f := setup(t)
	f.signIn(t, "user-8")

	p := schema.Project{ID: "p1", Name: "Home", Color: "#112233", CreatedAt: time.Now()}
	f.mirror.Schedule(schema.KindProject, p)
	f.mirror.Wait()

	got, err := PullAs[schema.Project](context.Background(), f.mirror, "user-8", schema.KindProject)
	if err != nil {
		t.Fatalf("PullAs failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Home" || got[0].Color != "#112233" {
		t.Errorf("PullAs = %+v", got)
	}
}

func TestPermissionDenied_Status(t *testing.T) {
	f := setup(t)

	var published []Status
	events.Subscribe(f.bus, func(e events.SyncStatusChanged) {
		published = append(published, e.Status)
	})

	f.redis.RequireAuth("locked")
	err := f.mirror.Push(context.Background(), "user-1", schema.KindTask, []remote.Document{{"id": "x"}})
	if !errors.Is(err, remote.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	st := f.mirror.Status()
	if !st.PermissionDenied || st.LastError == "" || st.LastErrorAt == nil {
		t.Errorf("Status() = %+v", st)
	}
	if len(published) == 0 || !published[len(published)-1].PermissionDenied {
		t.Errorf("status event not published: %+v", published)
	}
}

func ids(docs []remote.Document) []string {
	var out []string
	for _, d := range docs {
		out = append(out, d.ID())
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
