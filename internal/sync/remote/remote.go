// Package remote defines the two remote stores the sync core talks to and
// their Redis and Postgres implementations.
//
// The Document Store holds per-account collections of JSON documents keyed by
// id (the cloud mirror). The Keyed-Path Store holds single JSON values at
// public paths (shared snapshots). Both support change subscriptions.
//
// All errors returned by implementations are classified against the sentinel
// errors in errors.go so callers can branch with errors.Is.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Document is one JSON object stored in a collection.
type Document map[string]any

// ID returns the document's "id" field, or "" when absent.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Change describes one mutation of a collection. A Resync change carries no
// id: the subscription was re-established after an interruption and changes
// may have been missed.
type Change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Deleted    bool   `json:"deleted"`
	Resync     bool   `json:"resync,omitempty"`
}

// CancelFunc ends a subscription. It is safe to call more than once.
type CancelFunc func()

// DocumentStore is the Remote Document Store.
type DocumentStore interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Put fully replaces the document stored under id.
	Put(ctx context.Context, collection, id string, doc Document) error
	// Delete is a no-op for missing documents.
	Delete(ctx context.Context, collection, id string) error
	// List returns every document in the collection ordered by id.
	List(ctx context.Context, collection string) ([]Document, error)
	// Subscribe calls fn for each change to the collection until cancelled.
	// The subscription is established before Subscribe returns. When the
	// stream is interrupted onErr (which may be nil) receives an error
	// wrapping ErrUnavailable; once it is restored fn receives a Resync
	// change.
	Subscribe(ctx context.Context, collection string, fn func(Change), onErr func(error)) (CancelFunc, error)
}

// PathStore is the Remote Keyed-Path Store.
type PathStore interface {
	// Read returns ErrNotFound when nothing is stored at path.
	Read(ctx context.Context, path string) (json.RawMessage, error)
	Write(ctx context.Context, path string, data json.RawMessage) error
	Delete(ctx context.Context, path string) error
	// Subscribe calls fn with the new value after each write, and with nil
	// after a delete.
	Subscribe(ctx context.Context, path string, fn func(json.RawMessage)) (CancelFunc, error)
}

// resubscribeDelay is the pause between attempts to restore an interrupted
// subscription.
var resubscribeDelay = time.Second

// CollectionPath scopes a collection to an account.
func CollectionPath(identityID, collection string) string {
	return fmt.Sprintf("users/%s/%s", identityID, collection)
}

func sortDocuments(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
