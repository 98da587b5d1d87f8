// Package mirror keeps the local collections and the per-account cloud mirror
// consistent.
//
// Overview
//
// Every signed-in (durable) identity owns three remote collections:
//
//	users/<identityID>/tasks
//	users/<identityID>/projects
//	users/<identityID>/contacts
//
// Each entity is one document keyed by its id. Before a document is sent,
// absent values are stripped (see StripAbsent) because the document stores
// reject or misinterpret JSON null.
//
// Flow
//
//	Entity service mutation
//	     ↓ Schedule / ScheduleDelete (never blocks the caller)
//	Pusher worker (one goroutine, FIFO)
//	     ↓ Push / Delete
//	remote.DocumentStore
//
//	Identity anonymous → durable
//	     ↓ Coordinator
//	Reconcile (once)  →  realtime subscriptions
//
// Reconciliation
//
// Reconcile compares local and remote per kind:
//
//   - local non-empty, remote empty: push local
//   - local empty, remote non-empty: pull remote
//   - both non-empty: remote wins, local is replaced
//   - both empty: nothing
//
// Error Handling
//
// Remote failures never roll back local writes and are never retried
// automatically. The most recent failure is kept in Status and published on
// the event bus. A permission error additionally sets PermissionDenied so a
// collaborator can point the user at their configuration.
//
// Concurrency
//
// Push, Pull, Delete and Reconcile may be called from any goroutine. Scheduled
// pushes from one process reach the remote in the order they were scheduled;
// nothing orders writes from different processes.
package mirror
