package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// Projects is the project service.
type Projects struct {
	s *Store
	c collection[schema.Project]
}

// Create stores a new project built from in.
func (ps *Projects) Create(ctx context.Context, in schema.Project) (schema.Project, error) {
	now := ps.s.now()
	p := in
	p.ID = ps.s.newID()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.SetDefaults(now)
	if err := p.Validate(); err != nil {
		return schema.Project{}, err
	}

	err := ps.c.update(ctx, func(items []schema.Project) ([]schema.Project, error) {
		return append(items, p), nil
	}, func() { ps.s.schedule(schema.KindProject, p) })
	if err != nil {
		return schema.Project{}, err
	}
	return p, nil
}

// Update applies patch to the project with id.
func (ps *Projects) Update(ctx context.Context, id string, patch schema.ProjectPatch) (schema.Project, error) {
	var result schema.Project
	err := ps.c.update(ctx, func(items []schema.Project) ([]schema.Project, error) {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		next := items[idx]
		patch.Apply(&next, ps.s.now())
		if err := next.Validate(); err != nil {
			return nil, err
		}
		items[idx] = next
		result = next
		return items, nil
	}, func() { ps.s.schedule(schema.KindProject, result) })
	if err != nil {
		return schema.Project{}, err
	}
	return result, nil
}

// Delete removes the project and detaches its tasks.
func (ps *Projects) Delete(ctx context.Context, id string) (bool, error) {
	removed := false
	err := ps.c.update(ctx, func(items []schema.Project) ([]schema.Project, error) {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil, errUnchanged
		}
		removed = true
		return append(items[:idx], items[idx+1:]...), nil
	}, func() { ps.s.scheduleDelete(schema.KindProject, id) })
	if err != nil || !removed {
		return false, err
	}

	if err := ps.s.tasks.detachProject(ctx, id); err != nil {
		return true, fmt.Errorf("project deleted but tasks not detached: %w", err)
	}
	return true, nil
}

// Get returns one project.
func (ps *Projects) Get(ctx context.Context, id string) (schema.Project, error) {
	var (
		found schema.Project
		ok    bool
	)
	ps.c.view(ctx, func(items []schema.Project) {
		if idx := indexOf(items, id); idx >= 0 {
			found, ok = items[idx], true
		}
	})
	if !ok {
		return schema.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return found, nil
}

// List returns projects matching query, sorted by name.
func (ps *Projects) List(ctx context.Context, query string) []schema.Project {
	var out []schema.Project
	ps.c.view(ctx, func(items []schema.Project) {
		for i := range items {
			if items[i].Matches(query) {
				out = append(out, items[i])
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		return lessName(out[i].Name, out[j].Name)
	})
	return out
}

func lessName(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}
