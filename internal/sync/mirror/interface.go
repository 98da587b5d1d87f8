package mirror

import (
	"context"

	"github.com/mschirtzinger/flowsync/internal/sync/identity"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// LocalStore is the local side of the mirror.
//
// Snapshot returns the current local collection as documents. Replace swaps
// the whole local collection for docs; it must take the same lock entity
// mutations take so a replace never interleaves with a read-modify-write.
// source is reported on the resulting DataUpdated event.
type LocalStore interface {
	Snapshot(ctx context.Context, kind schema.Kind) ([]remote.Document, error)
	Replace(ctx context.Context, kind schema.Kind, docs []remote.Document, source string) error
}

// IdentitySource reports the identity whose collections are mirrored.
type IdentitySource interface {
	Current() identity.State
}

// Syncer is the synchronous half of the cloud mirror.
type Syncer interface {
	// Push upserts docs into the identity's collection for kind.
	//
	// Every document is stripped of absent values first. The first failure
	// stops the push and is recorded as the last error.
	Push(ctx context.Context, identityID string, kind schema.Kind, docs []remote.Document) error

	// Pull returns every remote document of kind for the identity.
	Pull(ctx context.Context, identityID string, kind schema.Kind) ([]remote.Document, error)

	// Delete removes one remote document. Missing documents are not an error.
	Delete(ctx context.Context, identityID string, kind schema.Kind, id string) error

	// Reconcile applies the reconciliation policy to every kind.
	//
	// Example:
	//   report, err := m.Reconcile(ctx, "user-42")
	//   // report[schema.KindTask] == ActionPushed
	Reconcile(ctx context.Context, identityID string) (Report, error)
}

// Action is what Reconcile did for one kind.
type Action string

const (
	ActionNone       Action = "none"
	ActionPushed     Action = "pushed"
	ActionPulled     Action = "pulled"
	ActionRemoteWins Action = "remote-wins"
)

// Report maps each kind to the action taken.
type Report map[schema.Kind]Action
