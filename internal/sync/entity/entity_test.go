package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/cache"
	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

type recordingMirror struct {
	mu      sync.Mutex
	pushes  map[schema.Kind][]string
	deletes map[schema.Kind][]string
}

func newRecordingMirror() *recordingMirror {
	return &recordingMirror{
		pushes:  make(map[schema.Kind][]string),
		deletes: make(map[schema.Kind][]string),
	}
}

func (m *recordingMirror) Schedule(kind schema.Kind, entities ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		switch v := e.(type) {
		case schema.Entity:
			m.pushes[kind] = append(m.pushes[kind], v.EntityID())
		case remote.Document:
			m.pushes[kind] = append(m.pushes[kind], v.ID())
		}
	}
}

func (m *recordingMirror) ScheduleDelete(kind schema.Kind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes[kind] = append(m.deletes[kind], id)
}

// fakeClock advances one second per reading.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	store  *Store
	cache  *cache.Cache
	mirror *recordingMirror
	bus    *events.Bus
	events []events.DataUpdated
}

func setup(t *testing.T) *fixture {
	t.Helper()

	c, err := cache.Open(cache.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	f := &fixture{cache: c, mirror: newRecordingMirror(), bus: events.New()}
	events.Subscribe(f.bus, func(e events.DataUpdated) { f.events = append(f.events, e) })

	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	f.store = NewStore(c, f.bus, zerolog.Nop())
	f.store.now = clock.now
	f.store.SetMirror(f.mirror)
	return f
}

func ptr[T any](v T) *T { return &v }

func TestTasks_CreateAssignsIdentity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	created, err := f.store.Tasks().Create(ctx, schema.Task{
		ID:       "caller-chosen",
		Title:    "Buy milk",
		SubTasks: []schema.SubTask{{Title: "oat"}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" || created.ID == "caller-chosen" {
		t.Errorf("ID = %q, want a generated id", created.ID)
	}
	if created.Status != schema.StatusPending {
		t.Errorf("Status = %q, want pending", created.Status)
	}
	if created.SubTasks[0].ID == "" {
		t.Error("sub-task has no id")
	}
	if !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("CreatedAt %v != UpdatedAt %v", created.CreatedAt, created.UpdatedAt)
	}

	got, err := f.store.Tasks().Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Buy milk" {
		t.Errorf("Get title = %q", got.Title)
	}
	if len(f.mirror.pushes[schema.KindTask]) != 1 {
		t.Errorf("pushes = %v, want one", f.mirror.pushes)
	}
	if len(f.events) != 1 || f.events[0].Kind != schema.KindTask || f.events[0].Source != events.SourceLocal {
		t.Errorf("events = %+v", f.events)
	}
}

func TestTasks_UpdatePreservesIdentity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tasks := f.store.Tasks()

	created, err := tasks.Create(ctx, schema.Task{Title: "draft"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := tasks.Update(ctx, created.ID, schema.TaskPatch{
		Title:     ptr("final"),
		Important: ptr(true),
		DueDate:   ptr(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if updated.ID != created.ID {
		t.Errorf("ID changed: %s -> %s", created.ID, updated.ID)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("UpdatedAt not advanced: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
	}
	if updated.Title != "final" || !updated.Important || updated.DueDate == nil {
		t.Errorf("patch not applied: %+v", updated)
	}

	cleared, err := tasks.Update(ctx, created.ID, schema.TaskPatch{ClearDueDate: true})
	if err != nil {
		t.Fatalf("Update clear failed: %v", err)
	}
	if cleared.DueDate != nil {
		t.Errorf("DueDate = %v, want nil", cleared.DueDate)
	}
}

func TestTasks_UpdateMissing(t *testing.T) {
	f := setup(t)
	_, err := f.store.Tasks().Update(context.Background(), "nope", schema.TaskPatch{Title: ptr("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(f.events) != 0 {
		t.Errorf("failed update published %v", f.events)
	}
}

func TestTasks_ValidationBeforeWrite(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tasks := f.store.Tasks()

	tests := []struct {
		name string
		in   schema.Task
	}{
		{"empty title", schema.Task{Title: "  "}},
		{"bad status", schema.Task{Title: "x", Status: "later"}},
		{"bad repeat", schema.Task{Title: "x", Repeat: "hourly"}},
		{"long title", schema.Task{Title: string(make([]byte, schema.MaxTitleLength+1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tasks.Create(ctx, tt.in)
			if !errors.Is(err, schema.ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}

	if n := len(tasks.List(ctx, TaskFilter{})); n != 0 {
		t.Errorf("invalid creates stored %d tasks", n)
	}
	if n := len(f.mirror.pushes[schema.KindTask]); n != 0 {
		t.Errorf("invalid creates scheduled %d pushes", n)
	}

	created, err := tasks.Create(ctx, schema.Task{Title: "ok"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := tasks.Update(ctx, created.ID, schema.TaskPatch{Title: ptr("")}); !errors.Is(err, schema.ErrInvalid) {
		t.Errorf("expected ErrInvalid on update, got %v", err)
	}
	got, _ := tasks.Get(ctx, created.ID)
	if got.Title != "ok" {
		t.Errorf("invalid update was written: %q", got.Title)
	}
}

func TestTasks_ListSortAndFilter(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tasks := f.store.Tasks()

	day := func(d int) *time.Time { v := time.Date(2026, 5, d, 0, 0, 0, 0, time.UTC); return &v }
	project := "p1"

	inputs := []schema.Task{
		{Title: "undated old"},
		{Title: "due later", DueDate: day(20)},
		{Title: "important undated", Important: true},
		{Title: "due soon", DueDate: day(3), ProjectID: &project},
		{Title: "undated new", MyDay: true},
		{Title: "important due", Important: true, DueDate: day(10), Description: "Quarterly REPORT"},
	}
	for _, in := range inputs {
		if _, err := tasks.Create(ctx, in); err != nil {
			t.Fatalf("Create(%s) failed: %v", in.Title, err)
		}
	}

	want := []string{
		"important due",
		"important undated",
		"due soon",
		"due later",
		"undated new",
		"undated old",
	}
	got := tasks.List(ctx, TaskFilter{})
	if len(got) != len(want) {
		t.Fatalf("List returned %d tasks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Title != want[i] {
			t.Errorf("position %d = %q, want %q", i, got[i].Title, want[i])
		}
	}

	filters := []struct {
		name   string
		filter TaskFilter
		want   []string
	}{
		{"important", TaskFilter{Important: ptr(true)}, []string{"important due", "important undated"}},
		{"my day", TaskFilter{MyDay: ptr(true)}, []string{"undated new"}},
		{"project", TaskFilter{ProjectID: &project}, []string{"due soon"}},
		{"query description", TaskFilter{Query: "report"}, []string{"important due"}},
		{"query title", TaskFilter{Query: "UNDATED"}, []string{"important undated", "undated new", "undated old"}},
		{"status", TaskFilter{Status: ptr(schema.StatusCompleted)}, nil},
	}
	for _, tt := range filters {
		t.Run(tt.name, func(t *testing.T) {
			got := tasks.List(ctx, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d tasks, want %v", len(got), tt.want)
			}
			for i := range tt.want {
				if got[i].Title != tt.want[i] {
					t.Errorf("position %d = %q, want %q", i, got[i].Title, tt.want[i])
				}
			}
		})
	}
}

func TestTasks_SubTaskAutoComplete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tasks := f.store.Tasks()

	created, err := tasks.Create(ctx, schema.Task{Title: "pack", SubTasks: []schema.SubTask{{Title: "socks"}}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	withTwo, err := tasks.AddSubTask(ctx, created.ID, "shirts")
	if err != nil {
		t.Fatalf("AddSubTask failed: %v", err)
	}
	if len(withTwo.SubTasks) != 2 {
		t.Fatalf("sub-tasks = %d, want 2", len(withTwo.SubTasks))
	}

	first, err := tasks.ToggleSubTask(ctx, created.ID, withTwo.SubTasks[0].ID)
	if err != nil {
		t.Fatalf("ToggleSubTask failed: %v", err)
	}
	if first.IsCompleted() {
		t.Error("task completed with an open sub-task")
	}

	done, err := tasks.ToggleSubTask(ctx, created.ID, withTwo.SubTasks[1].ID)
	if err != nil {
		t.Fatalf("ToggleSubTask failed: %v", err)
	}
	if !done.IsCompleted() || done.CompletedAt == nil {
		t.Errorf("task not auto-completed: status=%s completedAt=%v", done.Status, done.CompletedAt)
	}

	reopened, err := tasks.Update(ctx, created.ID, schema.TaskPatch{Status: ptr(schema.StatusPending)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if reopened.IsCompleted() || reopened.CompletedAt != nil {
		t.Errorf("explicit reopen overridden: status=%s", reopened.Status)
	}

	if _, err := tasks.ToggleSubTask(ctx, created.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing sub-task, got %v", err)
	}
}

func TestTasks_RepeatRollForward(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tasks := f.store.Tasks()

	due := time.Date(2026, 5, 15, 17, 0, 0, 0, time.UTC) // Friday
	reminder := due.Add(-30 * time.Minute)

	created, err := tasks.Create(ctx, schema.Task{
		Title:    "standup notes",
		Repeat:   schema.RepeatWeekdays,
		DueDate:  &due,
		Reminder: &reminder,
		SubTasks: []schema.SubTask{{Title: "write", IsCompleted: true}, {Title: "send"}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rolled, err := tasks.Complete(ctx, created.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	wantDue := time.Date(2026, 5, 18, 17, 0, 0, 0, time.UTC) // Monday
	if rolled.DueDate == nil || !rolled.DueDate.Equal(wantDue) {
		t.Errorf("DueDate = %v, want %v", rolled.DueDate, wantDue)
	}
	if rolled.Reminder == nil || !rolled.Reminder.Equal(wantDue.Add(-30*time.Minute)) {
		t.Errorf("Reminder = %v, want 30m before new due date", rolled.Reminder)
	}
	if rolled.Status != schema.StatusPending || rolled.CompletedAt != nil {
		t.Errorf("rolled task status = %s completedAt = %v", rolled.Status, rolled.CompletedAt)
	}
	for _, st := range rolled.SubTasks {
		if st.IsCompleted {
			t.Errorf("sub-task %q still checked after roll-forward", st.Title)
		}
	}

	plain, err := tasks.Create(ctx, schema.Task{Title: "one-off", DueDate: &due})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	completed, err := tasks.Complete(ctx, plain.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !completed.IsCompleted() || completed.CompletedAt == nil {
		t.Errorf("one-off task not completed: %+v", completed)
	}
}

func TestTasks_DeleteAndReminderCandidates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tasks := f.store.Tasks()

	at := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	open, _ := tasks.Create(ctx, schema.Task{Title: "open", Reminder: &at})
	done, _ := tasks.Create(ctx, schema.Task{Title: "done", Reminder: &at, Status: schema.StatusCompleted})
	if _, err := tasks.Create(ctx, schema.Task{Title: "no reminder"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	candidates, err := tasks.ReminderCandidates(ctx)
	if err != nil {
		t.Fatalf("ReminderCandidates failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != open.ID {
		t.Errorf("candidates = %+v, want only %s", candidates, open.ID)
	}

	ok, err := tasks.Delete(ctx, done.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, err = tasks.Delete(ctx, done.ID)
	if err != nil || ok {
		t.Errorf("second Delete = %v, %v, want false, nil", ok, err)
	}
	if got := f.mirror.deletes[schema.KindTask]; len(got) != 1 || got[0] != done.ID {
		t.Errorf("scheduled deletes = %v", got)
	}
}

func TestTasks_CorruptCacheTreatedAsEmpty(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if err := f.cache.SetRaw(ctx, schema.KindTask.CacheKey(), []byte(`{"broken"`)); err != nil {
		t.Fatalf("SetRaw failed: %v", err)
	}

	if got := f.store.Tasks().List(ctx, TaskFilter{}); len(got) != 0 {
		t.Errorf("List = %v, want empty", got)
	}
	if _, err := f.store.Tasks().Create(ctx, schema.Task{Title: "fresh start"}); err != nil {
		t.Fatalf("Create over corrupt cache failed: %v", err)
	}
	if got := f.store.Tasks().List(ctx, TaskFilter{}); len(got) != 1 {
		t.Errorf("List after create = %d tasks, want 1", len(got))
	}
}

func TestTasks_ConcurrentCreates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.store.Tasks().Create(ctx, schema.Task{Title: fmt.Sprintf("task %d", i)}); err != nil {
				t.Errorf("Create %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := f.store.Tasks().List(ctx, TaskFilter{}); len(got) != 20 {
		t.Errorf("List = %d tasks, want 20 (lost update)", len(got))
	}
}

func TestProjects_DeleteDetachesTasks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p, err := f.store.Projects().Create(ctx, schema.Project{Name: "Garden"})
	if err != nil {
		t.Fatalf("Create project failed: %v", err)
	}
	if p.Color != "#3b82f6" || p.Icon != "folder" {
		t.Errorf("defaults not applied: %+v", p)
	}

	task, err := f.store.Tasks().Create(ctx, schema.Task{Title: "weed", ProjectID: &p.ID})
	if err != nil {
		t.Fatalf("Create task failed: %v", err)
	}

	ok, err := f.store.Projects().Delete(ctx, p.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}

	got, err := f.store.Tasks().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ProjectID != nil {
		t.Errorf("ProjectID = %v, want nil", *got.ProjectID)
	}
	if pushes := f.mirror.pushes[schema.KindTask]; len(pushes) != 2 {
		t.Errorf("task pushes = %v, want create + detach", pushes)
	}
}

func TestProjects_UpdateAndList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	projects := f.store.Projects()

	for _, name := range []string{"work", "Errands", "home"} {
		if _, err := projects.Create(ctx, schema.Project{Name: name}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	list := projects.List(ctx, "")
	if len(list) != 3 || list[0].Name != "Errands" || list[1].Name != "home" || list[2].Name != "work" {
		t.Errorf("List order = %v", list)
	}

	if _, err := projects.Update(ctx, list[0].ID, schema.ProjectPatch{Color: ptr("red")}); !errors.Is(err, schema.ErrInvalid) {
		t.Errorf("expected ErrInvalid for bad color, got %v", err)
	}
	updated, err := projects.Update(ctx, list[0].ID, schema.ProjectPatch{Color: ptr("#ff0000"), IsShared: ptr(true)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Color != "#ff0000" || !updated.IsShared {
		t.Errorf("Update = %+v", updated)
	}

	if got := projects.List(ctx, "OM"); len(got) != 1 || got[0].Name != "home" {
		t.Errorf("query List = %v", got)
	}
}

func TestContacts_CRUD(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	contacts := f.store.Contacts()

	if _, err := contacts.Create(ctx, schema.Contact{Name: "Bad", Email: "not-an-email"}); !errors.Is(err, schema.ErrInvalid) {
		t.Errorf("expected ErrInvalid for bad email, got %v", err)
	}

	zed, err := contacts.Create(ctx, schema.Contact{Name: "Zed", Company: "Acme", Fields: map[string]string{"twitter": "@zed"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := contacts.Create(ctx, schema.Contact{Name: "amy", Email: "amy@example.com"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	list := contacts.List(ctx, "")
	if len(list) != 2 || list[0].Name != "amy" {
		t.Errorf("List = %v", list)
	}
	if got := contacts.List(ctx, "acme"); len(got) != 1 || got[0].ID != zed.ID {
		t.Errorf("query List = %v", got)
	}

	updated, err := contacts.Update(ctx, zed.ID, schema.ContactPatch{
		Role:   ptr("CTO"),
		Fields: map[string]string{"twitter": "", "github": "zed"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Role != "CTO" || updated.Fields["github"] != "zed" {
		t.Errorf("Update = %+v", updated)
	}
	if _, ok := updated.Fields["twitter"]; ok {
		t.Error("empty field value did not remove the key")
	}

	if ok, err := contacts.Delete(ctx, zed.ID); err != nil || !ok {
		t.Errorf("Delete = %v, %v", ok, err)
	}
	if _, err := contacts.Get(ctx, zed.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_ReplaceAndSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	valid, err := schema.ToMap(schema.Task{
		ID: "remote-1", Title: "from cloud", Status: schema.StatusPending,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	docs := []remote.Document{valid, {"id": "broken", "title": ""}}

	if err := f.store.Replace(ctx, schema.KindTask, docs, events.SourceRemote); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	snap, err := f.store.Snapshot(ctx, schema.KindTask)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap) != 1 || snap[0].ID() != "remote-1" {
		t.Errorf("Snapshot = %v, want only remote-1", snap)
	}
	if len(f.mirror.pushes[schema.KindTask]) != 0 {
		t.Error("Replace scheduled a push")
	}
	last := f.events[len(f.events)-1]
	if last.Source != events.SourceRemote {
		t.Errorf("event source = %q, want remote", last.Source)
	}

	if err := f.store.Import(ctx, schema.KindTask, docs); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if got := f.mirror.pushes[schema.KindTask]; len(got) != 1 || got[0] != "remote-1" {
		t.Errorf("Import pushes = %v", got)
	}

	if err := f.store.Replace(ctx, schema.Kind("note"), nil, events.SourceRemote); !errors.Is(err, schema.ErrInvalid) {
		t.Errorf("expected ErrInvalid for unknown kind, got %v", err)
	}
}

func TestStore_ImportSharedIsDetached(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	original, err := f.store.Tasks().Create(ctx, schema.Task{Title: "shared plan"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	data, _ := json.Marshal(original)

	newID, err := f.store.ImportShared(ctx, schema.KindTask, data)
	if err != nil {
		t.Fatalf("ImportShared failed: %v", err)
	}
	if newID == original.ID {
		t.Fatal("imported copy reused the original id")
	}

	if _, err := f.store.Tasks().Update(ctx, newID, schema.TaskPatch{Title: ptr("my copy")}); err != nil {
		t.Fatalf("Update copy failed: %v", err)
	}
	got, _ := f.store.Tasks().Get(ctx, original.ID)
	if got.Title != "shared plan" {
		t.Errorf("original changed to %q", got.Title)
	}
}

// orderMirror records pushed task titles and, at each push, the title the
// cache holds for that task.
type orderMirror struct {
	kv KV

	mu     sync.Mutex
	pushed []string
	stale  int
}

func (m *orderMirror) Schedule(kind schema.Kind, entities ...any) {
	var stored []schema.Task
	_, _ = m.kv.Get(context.Background(), kind.CacheKey(), &stored)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		task := e.(schema.Task)
		m.pushed = append(m.pushed, task.Title)
		if len(stored) != 1 || stored[0].Title != task.Title {
			m.stale++
		}
	}
}

func (m *orderMirror) ScheduleDelete(schema.Kind, string) {}

// TestTasks_PushesFollowWriteOrder tests that concurrent updates queue their
// pushes in the order the local writes happened, so the last push carries
// the stored state.
func TestTasks_PushesFollowWriteOrder(t *testing.T) {
	c, err := cache.Open(cache.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	defer c.Close()
	store := NewStore(c, events.New(), zerolog.Nop())
	ctx := context.Background()

	task, err := store.Tasks().Create(ctx, schema.Task{Title: "start"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m := &orderMirror{kv: c}
	store.SetMirror(m)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				title := fmt.Sprintf("writer %d rev %d", w, i)
				if _, err := store.Tasks().Update(ctx, task.ID, schema.TaskPatch{Title: &title}); err != nil {
					t.Errorf("Update failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	final, err := store.Tasks().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(m.pushed) != 200 {
		t.Fatalf("got %d pushes, want 200", len(m.pushed))
	}
	if last := m.pushed[len(m.pushed)-1]; last != final.Title {
		t.Errorf("last push %q, stored %q", last, final.Title)
	}
	if m.stale != 0 {
		t.Errorf("%d pushes were queued after a newer local write", m.stale)
	}
}
