// Package entity implements the task, project and contact services on top of
// the local cache.
//
// Each kind is one collection stored under its cache key. Every mutation is a
// read-modify-write of the whole collection performed under that kind's
// mutex. Mirror pushes are queued under the mutex, which keeps them in write
// order, but run on the mirror's own goroutine so a slow or failing remote
// never blocks local writes. Events are published after the mutex is
// released.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// ErrNotFound is returned when an entity id does not exist.
var ErrNotFound = errors.New("entity not found")

// KV is the slice of the local cache the services need.
type KV interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

// Mirror receives best-effort remote writes. Both methods must return
// without waiting for the remote.
type Mirror interface {
	Schedule(kind schema.Kind, entities ...any)
	ScheduleDelete(kind schema.Kind, id string)
}

// Store owns the three collections.
type Store struct {
	kv     KV
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string

	locks map[schema.Kind]*sync.Mutex

	mirrorMu sync.RWMutex
	mirror   Mirror

	tasks    *Tasks
	projects *Projects
	contacts *Contacts
}

// NewStore builds the services over kv. bus may be nil.
func NewStore(kv KV, bus *events.Bus, logger zerolog.Logger) *Store {
	s := &Store{
		kv:     kv,
		bus:    bus,
		logger: logger.With().Str("component", "entity").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		locks:  make(map[schema.Kind]*sync.Mutex, len(schema.Kinds)),
	}
	for _, k := range schema.Kinds {
		s.locks[k] = &sync.Mutex{}
	}
	s.tasks = &Tasks{s: s, c: collection[schema.Task]{s: s, kind: schema.KindTask}}
	s.projects = &Projects{s: s, c: collection[schema.Project]{s: s, kind: schema.KindProject}}
	s.contacts = &Contacts{s: s, c: collection[schema.Contact]{s: s, kind: schema.KindContact}}
	return s
}

// SetMirror attaches the mirror that receives scheduled pushes.
func (s *Store) SetMirror(m Mirror) {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()
	s.mirror = m
}

func (s *Store) Tasks() *Tasks       { return s.tasks }
func (s *Store) Projects() *Projects { return s.projects }
func (s *Store) Contacts() *Contacts { return s.contacts }

// Snapshot returns the local collection for kind as documents.
func (s *Store) Snapshot(ctx context.Context, kind schema.Kind) ([]remote.Document, error) {
	lock, err := s.lock(kind)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	var docs []remote.Document
	found, err := s.kv.Get(ctx, kind.CacheKey(), &docs)
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("unreadable collection treated as empty")
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	return docs, nil
}

// Replace swaps the local collection for docs. Documents that do not decode
// into a valid entity are logged and dropped. Nothing is pushed to the mirror.
func (s *Store) Replace(ctx context.Context, kind schema.Kind, docs []remote.Document, source string) error {
	return s.replace(ctx, kind, docs, source, false)
}

// Import replaces the local collection for kind and pushes every entity to the
// mirror.
func (s *Store) Import(ctx context.Context, kind schema.Kind, docs []remote.Document) error {
	return s.replace(ctx, kind, docs, events.SourceImport, true)
}

func (s *Store) replace(ctx context.Context, kind schema.Kind, docs []remote.Document, source string, push bool) error {
	switch kind {
	case schema.KindTask:
		return s.tasks.c.replace(ctx, docs, source, push)
	case schema.KindProject:
		return s.projects.c.replace(ctx, docs, source, push)
	case schema.KindContact:
		return s.contacts.c.replace(ctx, docs, source, push)
	}
	return fmt.Errorf("%w: kind %q", schema.ErrInvalid, kind)
}

// ImportShared saves a shared snapshot as a new local entity with a fresh id
// and returns that id.
func (s *Store) ImportShared(ctx context.Context, kind schema.Kind, data json.RawMessage) (string, error) {
	switch kind {
	case schema.KindTask:
		var t schema.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return "", fmt.Errorf("failed to decode shared task: %w", err)
		}
		created, err := s.tasks.Create(ctx, t)
		return created.ID, err
	case schema.KindProject:
		var p schema.Project
		if err := json.Unmarshal(data, &p); err != nil {
			return "", fmt.Errorf("failed to decode shared project: %w", err)
		}
		p.IsShared = false
		created, err := s.projects.Create(ctx, p)
		return created.ID, err
	case schema.KindContact:
		var c schema.Contact
		if err := json.Unmarshal(data, &c); err != nil {
			return "", fmt.Errorf("failed to decode shared contact: %w", err)
		}
		created, err := s.contacts.Create(ctx, c)
		return created.ID, err
	}
	return "", fmt.Errorf("%w: kind %q", schema.ErrInvalid, kind)
}

func (s *Store) lock(kind schema.Kind) (*sync.Mutex, error) {
	lock, ok := s.locks[kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %q", schema.ErrInvalid, kind)
	}
	return lock, nil
}

func (s *Store) schedule(kind schema.Kind, entities ...any) {
	s.mirrorMu.RLock()
	m := s.mirror
	s.mirrorMu.RUnlock()
	if m != nil && len(entities) > 0 {
		m.Schedule(kind, entities...)
	}
}

func (s *Store) scheduleDelete(kind schema.Kind, id string) {
	s.mirrorMu.RLock()
	m := s.mirror
	s.mirrorMu.RUnlock()
	if m != nil {
		m.ScheduleDelete(kind, id)
	}
}

func (s *Store) changed(kind schema.Kind, source string) {
	s.bus.Publish(events.DataUpdated{Kind: kind, Source: source})
}
