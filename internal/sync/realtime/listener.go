// Package realtime mirrors remote collection changes into the local cache
// while an identity is signed in.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// LocalStore receives whole-collection replacements.
type LocalStore interface {
	Replace(ctx context.Context, kind schema.Kind, docs []remote.Document, source string) error
}

// StatusSink records whether subscriptions are live.
type StatusSink interface {
	SetActive(active bool)
}

// Listener holds at most one set of subscriptions, one per kind, for one
// identity. Every change notification triggers a full read of that kind's
// remote collection which then replaces the local collection.
type Listener struct {
	docs   remote.DocumentStore
	local  LocalStore
	status StatusSink
	logger zerolog.Logger

	mu         sync.Mutex
	generation int
	identityID string
	cancels    []remote.CancelFunc
	active     bool
	// down holds kinds whose stream is interrupted.
	down map[schema.Kind]error
}

// New creates a listener. status may be nil.
func New(docs remote.DocumentStore, local LocalStore, status StatusSink, logger zerolog.Logger) *Listener {
	return &Listener{
		docs:   docs,
		local:  local,
		status: status,
		logger: logger.With().Str("component", "realtime").Logger(),
	}
}

// Subscribe replaces any existing subscription set with one for identityID,
// then applies each non-empty remote collection once as an initial snapshot.
// On failure no subscriptions remain open.
func (l *Listener) Subscribe(ctx context.Context, identityID string) error {
	l.Unsubscribe()

	l.mu.Lock()
	l.generation++
	gen := l.generation
	l.mu.Unlock()

	cancels := make([]remote.CancelFunc, 0, len(schema.Kinds))
	for _, kind := range schema.Kinds {
		kind := kind
		collection := remote.CollectionPath(identityID, kind.Collection())
		cancel, err := l.docs.Subscribe(ctx, collection, func(c remote.Change) {
			if c.Resync {
				l.recovered(gen, kind)
			}
			l.refresh(gen, identityID, kind, true)
		}, func(err error) {
			l.interrupted(gen, kind, err)
		})
		if err != nil {
			for _, c := range cancels {
				c()
			}
			l.markFailed()
			return fmt.Errorf("failed to subscribe to %s: %w", collection, err)
		}
		cancels = append(cancels, cancel)
	}

	l.mu.Lock()
	if l.generation != gen {
		// A concurrent Subscribe or Unsubscribe won.
		l.mu.Unlock()
		for _, c := range cancels {
			c()
		}
		return nil
	}
	l.cancels = cancels
	l.identityID = identityID
	l.down = nil
	l.mu.Unlock()

	l.setActive(true)
	l.logger.Info().Str("identity", identityID).Msg("subscribed")

	for _, kind := range schema.Kinds {
		l.refresh(gen, identityID, kind, false)
	}
	return nil
}

// Unsubscribe closes the current subscription set. Safe to call at any time
// and any number of times.
func (l *Listener) Unsubscribe() {
	l.mu.Lock()
	l.generation++
	cancels := l.cancels
	l.cancels = nil
	l.identityID = ""
	l.down = nil
	l.mu.Unlock()

	if len(cancels) == 0 {
		return
	}
	for _, c := range cancels {
		c()
	}
	l.setActive(false)
	l.logger.Info().Msg("unsubscribed")
}

// Active reports whether a subscription set is live.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// IdentityID returns the identity currently subscribed, or "".
func (l *Listener) IdentityID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.identityID
}

// refresh reads kind's remote collection and replaces the local one. When
// applyEmpty is false an empty remote collection is ignored.
func (l *Listener) refresh(gen int, identityID string, kind schema.Kind, applyEmpty bool) {
	if !l.current(gen) {
		return
	}

	ctx := context.Background()
	docs, err := l.docs.List(ctx, remote.CollectionPath(identityID, kind.Collection()))
	if err != nil {
		l.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to read remote collection")
		l.markFailed()
		return
	}
	if len(docs) == 0 && !applyEmpty {
		return
	}
	// The set may have been replaced while the read was in flight.
	if !l.current(gen) {
		return
	}

	if err := l.local.Replace(ctx, kind, docs, events.SourceRemote); err != nil {
		l.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to apply remote collection")
		return
	}
	l.logger.Debug().Str("kind", string(kind)).Int("count", len(docs)).Msg("applied remote change")
}

// interrupted marks the set failed while any kind's stream is down.
func (l *Listener) interrupted(gen int, kind schema.Kind, err error) {
	l.mu.Lock()
	if l.generation != gen {
		l.mu.Unlock()
		return
	}
	if l.down == nil {
		l.down = make(map[schema.Kind]error)
	}
	l.down[kind] = err
	l.mu.Unlock()

	l.logger.Error().Err(err).Str("kind", string(kind)).Msg("subscription interrupted")
	l.markFailed()
}

// recovered reactivates the set once every interrupted stream is back.
func (l *Listener) recovered(gen int, kind schema.Kind) {
	l.mu.Lock()
	if l.generation != gen {
		l.mu.Unlock()
		return
	}
	delete(l.down, kind)
	healthy := len(l.down) == 0
	l.mu.Unlock()

	l.logger.Info().Str("kind", string(kind)).Msg("subscription restored")
	if healthy {
		l.setActive(true)
	}
}

func (l *Listener) current(gen int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation == gen
}

func (l *Listener) setActive(active bool) {
	l.mu.Lock()
	changed := l.active != active
	l.active = active
	l.mu.Unlock()

	if changed && l.status != nil {
		l.status.SetActive(active)
	}
}

// markFailed clears the active flag and reports it even if it was already
// clear.
func (l *Listener) markFailed() {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()

	if l.status != nil {
		l.status.SetActive(false)
	}
}
