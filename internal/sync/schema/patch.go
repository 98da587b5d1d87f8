package schema

import "time"

// TaskPatch is a partial task update. Nil fields are left untouched. ID and
// CreatedAt cannot be patched.
type TaskPatch struct {
	Title       *string
	Description *string
	Notes       *string
	Status      *Status
	Important   *bool
	MyDay       *bool
	ProjectID   *string
	DueDate     *time.Time
	Reminder    *time.Time
	Repeat      *Repeat
	SubTasks    *[]SubTask
	Tags        *[]string

	// Clear flags unset optional fields. They win over the value fields above.
	ClearProject  bool
	ClearDueDate  bool
	ClearReminder bool
}

// Apply merges the patch into t and refreshes UpdatedAt.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Important != nil {
		t.Important = *p.Important
	}
	if p.MyDay != nil {
		t.MyDay = *p.MyDay
	}
	if p.ProjectID != nil {
		id := *p.ProjectID
		t.ProjectID = &id
	}
	if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.Reminder != nil {
		at := *p.Reminder
		t.Reminder = &at
	}
	if p.Repeat != nil {
		t.Repeat = *p.Repeat
	}
	if p.SubTasks != nil {
		t.SubTasks = append([]SubTask{}, (*p.SubTasks)...)
	}
	if p.Tags != nil {
		t.Tags = append([]string{}, (*p.Tags)...)
	}
	if p.ClearProject {
		t.ProjectID = nil
	}
	if p.ClearDueDate {
		t.DueDate = nil
	}
	if p.ClearReminder {
		t.Reminder = nil
	}
	t.Touch(now)
}

// ProjectPatch is a partial project update.
type ProjectPatch struct {
	Name        *string
	Description *string
	Color       *string
	Icon        *string
	IsShared    *bool
}

// Apply merges the patch into p and refreshes UpdatedAt.
func (pp ProjectPatch) Apply(p *Project, now time.Time) {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.Color != nil {
		p.Color = *pp.Color
	}
	if pp.Icon != nil {
		p.Icon = *pp.Icon
	}
	if pp.IsShared != nil {
		p.IsShared = *pp.IsShared
	}
	p.UpdatedAt = now
}

// ContactPatch is a partial contact update. Fields entries with an empty value
// are removed from the contact's profile fields.
type ContactPatch struct {
	Name    *string
	Email   *string
	Phone   *string
	Company *string
	Role    *string
	Notes   *string
	Fields  map[string]string
}

// Apply merges the patch into c and refreshes UpdatedAt.
func (cp ContactPatch) Apply(c *Contact, now time.Time) {
	if cp.Name != nil {
		c.Name = *cp.Name
	}
	if cp.Email != nil {
		c.Email = *cp.Email
	}
	if cp.Phone != nil {
		c.Phone = *cp.Phone
	}
	if cp.Company != nil {
		c.Company = *cp.Company
	}
	if cp.Role != nil {
		c.Role = *cp.Role
	}
	if cp.Notes != nil {
		c.Notes = *cp.Notes
	}
	if len(cp.Fields) > 0 {
		if c.Fields == nil {
			c.Fields = make(map[string]string, len(cp.Fields))
		}
		for k, v := range cp.Fields {
			if v == "" {
				delete(c.Fields, k)
				continue
			}
			c.Fields[k] = v
		}
	}
	c.UpdatedAt = now
}
