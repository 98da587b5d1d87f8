package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// Tasks is the task service.
type Tasks struct {
	s *Store
	c collection[schema.Task]
}

// TaskFilter narrows List. Nil fields do not filter.
type TaskFilter struct {
	Status    *schema.Status
	Important *bool
	MyDay     *bool
	ProjectID *string
	Tag       string
	// Query matches title and description, case-insensitively.
	Query string
}

func (f TaskFilter) match(t *schema.Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Important != nil && t.Important != *f.Important {
		return false
	}
	if f.MyDay != nil && t.MyDay != *f.MyDay {
		return false
	}
	if f.ProjectID != nil && !t.InProject(*f.ProjectID) {
		return false
	}
	if f.Tag != "" && !hasTag(t.Tags, f.Tag) {
		return false
	}
	return t.Matches(f.Query)
}

// Create stores a new task built from in. ID, CreatedAt and UpdatedAt are
// assigned here; sub-tasks without an id get one.
func (ts *Tasks) Create(ctx context.Context, in schema.Task) (schema.Task, error) {
	now := ts.s.now()
	t := in
	t.ID = ts.s.newID()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.CompletedAt = nil
	t.SetDefaults(now)
	t.SubTasks = append([]schema.SubTask{}, t.SubTasks...)
	for i := range t.SubTasks {
		if t.SubTasks[i].ID == "" {
			t.SubTasks[i].ID = ts.s.newID()
		}
	}
	if t.IsCompleted() {
		t.CompletedAt = &now
	}
	if err := t.Validate(); err != nil {
		return schema.Task{}, err
	}

	err := ts.c.update(ctx, func(items []schema.Task) ([]schema.Task, error) {
		return append(items, t), nil
	}, func() { ts.s.schedule(schema.KindTask, t) })
	if err != nil {
		return schema.Task{}, err
	}
	return t, nil
}

// Update applies patch to the task with id.
//
// Completing a task (directly, or implicitly by completing its last open
// sub-task) sets CompletedAt. Completing a task with a repeat rule and a due
// date instead rolls it forward to the next occurrence.
func (ts *Tasks) Update(ctx context.Context, id string, patch schema.TaskPatch) (schema.Task, error) {
	return ts.mutate(ctx, id, patch.Status != nil, func(t *schema.Task) error {
		patch.Apply(t, ts.s.now())
		return nil
	})
}

// Complete marks the task completed.
func (ts *Tasks) Complete(ctx context.Context, id string) (schema.Task, error) {
	status := schema.StatusCompleted
	return ts.Update(ctx, id, schema.TaskPatch{Status: &status})
}

// AddSubTask appends an open checklist item.
func (ts *Tasks) AddSubTask(ctx context.Context, taskID, title string) (schema.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return schema.Task{}, &schema.ValidationError{Field: "subTasks", Message: "item has no title"}
	}
	return ts.mutate(ctx, taskID, false, func(t *schema.Task) error {
		t.SubTasks = append(t.SubTasks, schema.SubTask{ID: ts.s.newID(), Title: title})
		t.Touch(ts.s.now())
		return nil
	})
}

// ToggleSubTask flips one checklist item.
func (ts *Tasks) ToggleSubTask(ctx context.Context, taskID, subTaskID string) (schema.Task, error) {
	return ts.mutate(ctx, taskID, false, func(t *schema.Task) error {
		for i := range t.SubTasks {
			if t.SubTasks[i].ID == subTaskID {
				t.SubTasks[i].IsCompleted = !t.SubTasks[i].IsCompleted
				t.Touch(ts.s.now())
				return nil
			}
		}
		return fmt.Errorf("sub-task %s: %w", subTaskID, ErrNotFound)
	})
}

// mutate is the single read-modify-write path for existing tasks.
// explicitStatus suppresses sub-task auto-completion so a caller can reopen a
// task whose checklist is done.
func (ts *Tasks) mutate(ctx context.Context, id string, explicitStatus bool, fn func(*schema.Task) error) (schema.Task, error) {
	var result schema.Task
	err := ts.c.update(ctx, func(items []schema.Task) ([]schema.Task, error) {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}

		prev := items[idx]
		next := prev
		next.SubTasks = append([]schema.SubTask{}, prev.SubTasks...)
		if err := fn(&next); err != nil {
			return nil, err
		}
		ts.applyRules(&prev, &next, explicitStatus)
		if err := next.Validate(); err != nil {
			return nil, err
		}

		// Identity is fixed no matter what fn did.
		next.ID = prev.ID
		next.CreatedAt = prev.CreatedAt

		items[idx] = next
		result = next
		return items, nil
	}, func() { ts.s.schedule(schema.KindTask, result) })
	if err != nil {
		return schema.Task{}, err
	}
	return result, nil
}

func (ts *Tasks) applyRules(prev, next *schema.Task, explicitStatus bool) {
	now := next.UpdatedAt

	if !explicitStatus && !next.IsCompleted() && next.AllSubTasksDone() {
		next.Status = schema.StatusCompleted
	}

	becameCompleted := next.IsCompleted() && !prev.IsCompleted()
	if becameCompleted && next.Repeat != "" && next.DueDate != nil {
		due := *next.DueDate
		nextDue := next.Repeat.Next(due)
		offset := nextDue.Sub(due)
		next.DueDate = &nextDue
		if next.Reminder != nil {
			at := next.Reminder.Add(offset)
			next.Reminder = &at
		}
		next.Status = schema.StatusPending
		next.CompletedAt = nil
		for i := range next.SubTasks {
			next.SubTasks[i].IsCompleted = false
		}
		return
	}

	switch {
	case becameCompleted:
		next.CompletedAt = &now
	case !next.IsCompleted():
		next.CompletedAt = nil
	}
}

// Delete removes the task. It reports whether a task was removed.
func (ts *Tasks) Delete(ctx context.Context, id string) (bool, error) {
	removed := false
	err := ts.c.update(ctx, func(items []schema.Task) ([]schema.Task, error) {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil, errUnchanged
		}
		removed = true
		return append(items[:idx], items[idx+1:]...), nil
	}, func() { ts.s.scheduleDelete(schema.KindTask, id) })
	if err != nil || !removed {
		return false, err
	}
	return true, nil
}

// Get returns one task.
func (ts *Tasks) Get(ctx context.Context, id string) (schema.Task, error) {
	var (
		found schema.Task
		ok    bool
	)
	ts.c.view(ctx, func(items []schema.Task) {
		if idx := indexOf(items, id); idx >= 0 {
			found, ok = items[idx], true
		}
	})
	if !ok {
		return schema.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return found, nil
}

// List returns the tasks matching f, important first, then by due date
// (undated last), then newest first.
func (ts *Tasks) List(ctx context.Context, f TaskFilter) []schema.Task {
	var out []schema.Task
	ts.c.view(ctx, func(items []schema.Task) {
		for i := range items {
			if f.match(&items[i]) {
				out = append(out, items[i])
			}
		}
	})
	SortTasks(out)
	return out
}

// SortTasks orders tasks the way List does. The sort is stable.
func SortTasks(tasks []schema.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Important != b.Important {
			return a.Important
		}
		switch {
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

// ReminderCandidates returns open tasks that have a reminder set.
func (ts *Tasks) ReminderCandidates(ctx context.Context) ([]schema.Task, error) {
	var out []schema.Task
	ts.c.view(ctx, func(items []schema.Task) {
		for _, t := range items {
			if !t.IsCompleted() && t.Reminder != nil {
				out = append(out, t)
			}
		}
	})
	return out, nil
}

// detachProject clears projectID from every task in that project.
func (ts *Tasks) detachProject(ctx context.Context, projectID string) error {
	var changed []any
	err := ts.c.update(ctx, func(items []schema.Task) ([]schema.Task, error) {
		now := ts.s.now()
		for i := range items {
			if items[i].InProject(projectID) {
				items[i].ProjectID = nil
				items[i].Touch(now)
				changed = append(changed, items[i])
			}
		}
		if len(changed) == 0 {
			return nil, errUnchanged
		}
		return items, nil
	}, func() { ts.s.schedule(schema.KindTask, changed...) })
	return err
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
