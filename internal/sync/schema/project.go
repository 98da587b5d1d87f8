package schema

import (
	"regexp"
	"strings"
	"time"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Project groups tasks and owns a color and icon for display.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	Icon        string    `json:"icon"`
	IsShared    bool      `json:"isShared"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EntityID implements Entity.
func (p Project) EntityID() string { return p.ID }

// EntityKind implements Entity.
func (p Project) EntityKind() Kind { return KindProject }

// Validate checks the project's field values.
func (p *Project) Validate() error {
	if p.ID == "" {
		return invalid("id", "is required")
	}
	if err := validateTitle("name", p.Name); err != nil {
		return err
	}
	if p.Color != "" && !colorPattern.MatchString(p.Color) {
		return invalid("color", "must look like #rrggbb (got %q)", p.Color)
	}
	if p.CreatedAt.IsZero() {
		return invalid("createdAt", "is required")
	}
	if p.UpdatedAt.IsZero() {
		return invalid("updatedAt", "is required")
	}
	return nil
}

// SetDefaults fills fields a caller may leave unset when creating a project.
func (p *Project) SetDefaults(now time.Time) {
	if p.Color == "" {
		p.Color = "#3b82f6"
	}
	if p.Icon == "" {
		p.Icon = "folder"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
}

// Matches reports whether the name or description contains query, ignoring case.
func (p *Project) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	return q == "" ||
		strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Description), q)
}
