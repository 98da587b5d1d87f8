package entity

import (
	"context"
	"fmt"
	"sort"

	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// Contacts is the contact service.
type Contacts struct {
	s *Store
	c collection[schema.Contact]
}

func (cs *Contacts) Create(ctx context.Context, in schema.Contact) (schema.Contact, error) {
	now := cs.s.now()
	c := in
	c.ID = cs.s.newID()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.SetDefaults(now)
	if in.Fields != nil {
		c.Fields = make(map[string]string, len(in.Fields))
		for k, v := range in.Fields {
			c.Fields[k] = v
		}
	}
	if err := c.Validate(); err != nil {
		return schema.Contact{}, err
	}

	err := cs.c.update(ctx, func(items []schema.Contact) ([]schema.Contact, error) {
		return append(items, c), nil
	}, func() { cs.s.schedule(schema.KindContact, c) })
	if err != nil {
		return schema.Contact{}, err
	}
	return c, nil
}

func (cs *Contacts) Update(ctx context.Context, id string, patch schema.ContactPatch) (schema.Contact, error) {
	var result schema.Contact
	err := cs.c.update(ctx, func(items []schema.Contact) ([]schema.Contact, error) {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil, fmt.Errorf("contact %s: %w", id, ErrNotFound)
		}
		next := items[idx]
		patch.Apply(&next, cs.s.now())
		if err := next.Validate(); err != nil {
			return nil, err
		}
		items[idx] = next
		result = next
		return items, nil
	}, func() { cs.s.schedule(schema.KindContact, result) })
	if err != nil {
		return schema.Contact{}, err
	}
	return result, nil
}

func (cs *Contacts) Delete(ctx context.Context, id string) (bool, error) {
	removed := false
	err := cs.c.update(ctx, func(items []schema.Contact) ([]schema.Contact, error) {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil, errUnchanged
		}
		removed = true
		return append(items[:idx], items[idx+1:]...), nil
	}, func() { cs.s.scheduleDelete(schema.KindContact, id) })
	if err != nil || !removed {
		return false, err
	}
	return true, nil
}

func (cs *Contacts) Get(ctx context.Context, id string) (schema.Contact, error) {
	var (
		found schema.Contact
		ok    bool
	)
	cs.c.view(ctx, func(items []schema.Contact) {
		if idx := indexOf(items, id); idx >= 0 {
			found, ok = items[idx], true
		}
	})
	if !ok {
		return schema.Contact{}, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	return found, nil
}

// List returns contacts matching query, sorted by name.
func (cs *Contacts) List(ctx context.Context, query string) []schema.Contact {
	var out []schema.Contact
	cs.c.view(ctx, func(items []schema.Contact) {
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
