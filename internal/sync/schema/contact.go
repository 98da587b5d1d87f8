package schema

import (
	"net/mail"
	"strings"
	"time"
)

// Contact is an address-book entry. Fields holds free-form profile values.
type Contact struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Company   string            `json:"company"`
	Role      string            `json:"role"`
	Notes     string            `json:"notes"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// EntityID implements Entity.
func (c Contact) EntityID() string { return c.ID }

// EntityKind implements Entity.
func (c Contact) EntityKind() Kind { return KindContact }

// Validate checks the contact's field values.
func (c *Contact) Validate() error {
	if c.ID == "" {
		return invalid("id", "is required")
	}
	if err := validateTitle("name", c.Name); err != nil {
		return err
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return invalid("email", "is not a valid address (got %q)", c.Email)
		}
	}
	if c.CreatedAt.IsZero() {
		return invalid("createdAt", "is required")
	}
	if c.UpdatedAt.IsZero() {
		return invalid("updatedAt", "is required")
	}
	return nil
}

// SetDefaults fills timestamps a caller may leave unset.
func (c *Contact) SetDefaults(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

// Matches reports whether any of the searchable fields contains query.
func (c *Contact) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, v := range []string{c.Name, c.Email, c.Company, c.Role, c.Notes} {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}
