package schema

import (
	"strings"
	"time"
)

// MaxTitleLength bounds task titles and project/contact names.
const MaxTitleLength = 500

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// SubTask is a checklist item owned by a task.
type SubTask struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	IsCompleted bool   `json:"isCompleted"`
}

// Task is a to-do item. Optional fields without omitempty are written as null
// when unset.
type Task struct {
	// ===== Identity =====
	ID string `json:"id"`

	// ===== Content =====
	Title       string `json:"title"`
	Description string `json:"description"`
	Notes       string `json:"notes,omitempty"`
	Status      Status `json:"status"`

	// ===== Flags =====
	Important bool `json:"important"`
	MyDay     bool `json:"myDay"`

	// ===== Ownership =====
	ProjectID *string `json:"projectId"`

	// ===== Scheduling =====
	DueDate  *time.Time `json:"dueDate"`
	Reminder *time.Time `json:"reminder"`
	Repeat   Repeat     `json:"repeat,omitempty"`

	// ===== Checklist & classification =====
	SubTasks []SubTask `json:"subTasks"`
	Tags     []string  `json:"tags,omitempty"`

	// ===== Timestamps =====
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// EntityID implements Entity.
func (t Task) EntityID() string { return t.ID }

// EntityKind implements Entity.
func (t Task) EntityKind() Kind { return KindTask }

// Validate checks the task's field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return invalid("id", "is required")
	}
	if err := validateTitle("title", t.Title); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return invalid("status", "must be one of pending, in-progress, completed (got %q)", t.Status)
	}
	if !t.Repeat.Valid() {
		return invalid("repeat", "unknown repeat rule %q", t.Repeat)
	}
	for i, st := range t.SubTasks {
		if st.ID == "" {
			return invalid("subTasks", "item %d has no id", i)
		}
		if strings.TrimSpace(st.Title) == "" {
			return invalid("subTasks", "item %d has no title", i)
		}
	}
	if t.CreatedAt.IsZero() {
		return invalid("createdAt", "is required")
	}
	if t.UpdatedAt.IsZero() {
		return invalid("updatedAt", "is required")
	}
	return nil
}

// SetDefaults fills fields a caller may leave unset when creating a task.
func (t *Task) SetDefaults(now time.Time) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.SubTasks == nil {
		t.SubTasks = []SubTask{}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// Touch sets UpdatedAt. Every mutation must call it.
func (t *Task) Touch(now time.Time) {
	t.UpdatedAt = now
}

// IsCompleted reports whether the task is in its terminal state.
func (t *Task) IsCompleted() bool {
	return t.Status == StatusCompleted
}

// AllSubTasksDone reports whether the task has a checklist and every item in
// it is checked.
func (t *Task) AllSubTasksDone() bool {
	if len(t.SubTasks) == 0 {
		return false
	}
	for _, st := range t.SubTasks {
		if !st.IsCompleted {
			return false
		}
	}
	return true
}

// Matches reports whether the task's title or description contains query,
// ignoring case. An empty query matches everything.
func (t *Task) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), q) ||
		strings.Contains(strings.ToLower(t.Description), q)
}

// InProject reports whether the task belongs to projectID.
func (t *Task) InProject(projectID string) bool {
	return t.ProjectID != nil && *t.ProjectID == projectID
}

func validateTitle(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, "is required")
	}
	if len(value) > MaxTitleLength {
		return invalid(field, "must be %d characters or less (got %d)", MaxTitleLength, len(value))
	}
	return nil
}
