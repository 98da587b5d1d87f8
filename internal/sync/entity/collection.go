package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// collection reads and writes one kind's cache entry. Callers hold the
// kind's lock around load/save pairs.
type collection[T schema.Entity] struct {
	s    *Store
	kind schema.Kind
}

// load returns the stored collection. Read failures are logged and yield an
// empty collection so a corrupt cache entry never takes the service down.
func (c collection[T]) load(ctx context.Context) []T {
	var items []T
	if _, err := c.s.kv.Get(ctx, c.kind.CacheKey(), &items); err != nil {
		c.s.logger.Warn().Err(err).Str("kind", string(c.kind)).Msg("unreadable collection treated as empty")
		return nil
	}
	return items
}

func (c collection[T]) save(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	if err := c.s.kv.Set(ctx, c.kind.CacheKey(), items); err != nil {
		return fmt.Errorf("failed to save %s collection: %w", c.kind, err)
	}
	return nil
}

// view runs fn over the collection under the lock.
func (c collection[T]) view(ctx context.Context, fn func([]T)) {
	lock := c.s.locks[c.kind]
	lock.Lock()
	defer lock.Unlock()
	fn(c.load(ctx))
}

// errUnchanged lets an update callback skip the write.
var errUnchanged = errors.New("unchanged")

// update runs a read-modify-write. fn returns the new collection; returning
// an error aborts without writing. saved, when non-nil, runs after a
// successful save while the lock is still held, so mirror pushes are queued
// in the same order as the local writes. The kind's DataUpdated event is
// published after the lock is released.
func (c collection[T]) update(ctx context.Context, fn func([]T) ([]T, error), saved func()) error {
	lock := c.s.locks[c.kind]
	lock.Lock()
	items, err := fn(c.load(ctx))
	if err == nil {
		err = c.save(ctx, items)
	}
	if err == nil && saved != nil {
		saved()
	}
	lock.Unlock()

	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	c.s.changed(c.kind, events.SourceLocal)
	return nil
}

// replace swaps in docs. With push set every stored entity is also queued
// for the mirror under the lock.
func (c collection[T]) replace(ctx context.Context, docs []remote.Document, source string, push bool) error {
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := schema.FromMap[T](doc)
		if err != nil {
			c.s.logger.Warn().Err(err).Str("kind", string(c.kind)).Str("id", doc.ID()).Msg("dropping undecodable document")
			continue
		}
		if v, ok := any(&item).(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				c.s.logger.Warn().Err(err).Str("kind", string(c.kind)).Str("id", doc.ID()).Msg("dropping invalid document")
				continue
			}
		}
		items = append(items, item)
	}

	lock := c.s.locks[c.kind]
	lock.Lock()
	err := c.save(ctx, items)
	if err == nil && push {
		entities := make([]any, len(items))
		for i := range items {
			entities[i] = items[i]
		}
		c.s.schedule(c.kind, entities...)
	}
	lock.Unlock()
	if err != nil {
		return err
	}

	c.s.changed(c.kind, source)
	return nil
}

func indexOf[T schema.Entity](items []T, id string) int {
	for i, item := range items {
		if item.EntityID() == id {
			return i
		}
	}
	return -1
}
