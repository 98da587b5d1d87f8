package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// Status is the observable state of the mirror.
type Status = events.SyncStatus

// Mirror implements Syncer and the asynchronous pusher used by the entity
// services.
type Mirror struct {
	docs   remote.DocumentStore
	local  LocalStore
	ids    IdentitySource
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	status Status

	pusher *pusher
}

var _ Syncer = (*Mirror)(nil)

// Config wires a Mirror.
type Config struct {
	// Docs is the remote store. Nil means no remote is configured; every
	// operation then fails with remote.ErrUnavailable and scheduling is a
	// no-op.
	Docs     remote.DocumentStore
	Identity IdentitySource
	Bus      *events.Bus
	Logger   zerolog.Logger
}

// New creates a Mirror and starts its push worker. The local store is
// attached with SetLocal because it usually depends on the Mirror itself.
//
// The caller MUST call Close() when done.
func New(cfg Config) *Mirror {
	m := &Mirror{
		docs:   cfg.Docs,
		ids:    cfg.Identity,
		bus:    cfg.Bus,
		logger: cfg.Logger.With().Str("component", "mirror").Logger(),
		now:    time.Now,
	}
	m.pusher = newPusher(m)
	return m
}

// SetLocal attaches the local store used by Reconcile.
func (m *Mirror) SetLocal(local LocalStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = local
}

// Configured reports whether a remote store is attached.
func (m *Mirror) Configured() bool {
	return m.docs != nil
}

// Enabled reports whether pushes currently go anywhere: a remote is
// configured and the identity is durable.
func (m *Mirror) Enabled() bool {
	return m.docs != nil && m.ids != nil && m.ids.Current().Durable
}

// Status returns a snapshot of the mirror state.
func (m *Mirror) Status() Status {
	m.mu.Lock()
	st := m.status
	m.mu.Unlock()
	st.Available = m.Enabled()
	return st
}

// SetActive records whether realtime subscriptions are established.
func (m *Mirror) SetActive(active bool) {
	m.updateStatus(func(st *Status) { st.Active = active })
}

func (m *Mirror) Push(ctx context.Context, identityID string, kind schema.Kind, docs []remote.Document) error {
	if m.docs == nil {
		return remote.ErrUnavailable
	}

	collection := remote.CollectionPath(identityID, kind.Collection())
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			return m.fail(fmt.Errorf("cannot push %s without id", kind))
		}
		if err := m.docs.Put(ctx, collection, id, StripDocument(doc)); err != nil {
			return m.fail(fmt.Errorf("failed to push %s %s: %w", kind, id, err))
		}
	}

	m.logger.Debug().Str("kind", string(kind)).Int("count", len(docs)).Msg("pushed")
	m.updateStatus(func(st *Status) {
		now := m.now()
		st.LastPushAt = &now
		st.LastError = ""
		st.LastErrorAt = nil
		st.PermissionDenied = false
	})
	return nil
}

func (m *Mirror) Pull(ctx context.Context, identityID string, kind schema.Kind) ([]remote.Document, error) {
	if m.docs == nil {
		return nil, remote.ErrUnavailable
	}

	docs, err := m.docs.List(ctx, remote.CollectionPath(identityID, kind.Collection()))
	if err != nil {
		return nil, m.fail(fmt.Errorf("failed to pull %s: %w", kind, err))
	}

	m.updateStatus(func(st *Status) {
		now := m.now()
		st.LastPullAt = &now
	})
	return docs, nil
}

// PullAs is Pull decoded into entity values.
func PullAs[T any](ctx context.Context, m Syncer, identityID string, kind schema.Kind) ([]T, error) {
	docs, err := m.Pull(ctx, identityID, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := schema.FromMap[T](doc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s %s: %w", kind, doc.ID(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *Mirror) Delete(ctx context.Context, identityID string, kind schema.Kind, id string) error {
	if m.docs == nil {
		return remote.ErrUnavailable
	}
	if err := m.docs.Delete(ctx, remote.CollectionPath(identityID, kind.Collection()), id); err != nil {
		return m.fail(fmt.Errorf("failed to delete %s %s: %w", kind, id, err))
	}
	return nil
}

func (m *Mirror) Reconcile(ctx context.Context, identityID string) (Report, error) {
	m.mu.Lock()
	local := m.local
	m.mu.Unlock()
	if local == nil {
		return nil, errors.New("mirror has no local store")
	}

	report := make(Report, len(schema.Kinds))
	for _, kind := range schema.Kinds {
		action, err := m.reconcileKind(ctx, local, identityID, kind)
		if err != nil {
			return report, err
		}
		report[kind] = action
	}

	m.logger.Info().
		Str("identity", identityID).
		Str("tasks", string(report[schema.KindTask])).
		Str("projects", string(report[schema.KindProject])).
		Str("contacts", string(report[schema.KindContact])).
		Msg("reconciled")
	return report, nil
}

func (m *Mirror) reconcileKind(ctx context.Context, local LocalStore, identityID string, kind schema.Kind) (Action, error) {
	localDocs, err := local.Snapshot(ctx, kind)
	if err != nil {
		return ActionNone, fmt.Errorf("failed to read local %s: %w", kind, err)
	}
	remoteDocs, err := m.Pull(ctx, identityID, kind)
	if err != nil {
		return ActionNone, err
	}

	switch {
	case len(localDocs) > 0 && len(remoteDocs) == 0:
		if err := m.Push(ctx, identityID, kind, localDocs); err != nil {
			return ActionNone, err
		}
		return ActionPushed, nil

	case len(localDocs) == 0 && len(remoteDocs) > 0:
		if err := local.Replace(ctx, kind, remoteDocs, events.SourceRemote); err != nil {
			return ActionNone, fmt.Errorf("failed to replace local %s: %w", kind, err)
		}
		return ActionPulled, nil

	case len(localDocs) > 0 && len(remoteDocs) > 0:
		// TODO: merge per field by updatedAt instead of discarding local edits.
		if err := local.Replace(ctx, kind, remoteDocs, events.SourceRemote); err != nil {
			return ActionNone, fmt.Errorf("failed to replace local %s: %w", kind, err)
		}
		return ActionRemoteWins, nil
	}

	return ActionNone, nil
}

// Close stops the push worker. Pending pushes are abandoned; call Wait first
// to flush them.
func (m *Mirror) Close() error {
	m.pusher.close()
	return nil
}

// fail records err as the last error and returns it.
func (m *Mirror) fail(err error) error {
	denied := remote.IsPermissionDenied(err)
	ev := m.logger.Warn()
	if denied {
		ev = m.logger.Error().Bool("permission_denied", true)
	}
	ev.Err(err).Msg("remote operation failed")

	m.updateStatus(func(st *Status) {
		now := m.now()
		st.LastError = err.Error()
		st.LastErrorAt = &now
		if denied {
			st.PermissionDenied = true
		}
	})
	return err
}

func (m *Mirror) updateStatus(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	st := m.status
	m.mu.Unlock()

	st.Available = m.Enabled()
	m.bus.Publish(events.SyncStatusChanged{Status: st})
}
