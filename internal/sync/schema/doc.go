// Package schema defines the synchronized entity records (tasks, projects and
// contacts) and the rules every copy of them must obey.
//
// # Overview
//
// The same records live in three places: the per-device Local Cache, the
// per-account cloud mirror, and detached share envelopes. This package owns the
// single shape all three use. Records are serialized with camelCase JSON keys
// so a record read back from any copy decodes into the same struct.
//
// # Identity
//
// Every record carries an immutable ID and CreatedAt. Partial updates are
// expressed as typed patches (TaskPatch, ProjectPatch, ContactPatch) which have
// no ID or CreatedAt field, so an update can never move a record's identity.
// Applying a patch always refreshes UpdatedAt.
//
// # Absent values
//
// Optional fields (dates, the project link) are encoded as JSON null when
// unset rather than omitted. The Local Cache keeps them that way; the cloud
// mirror strips them before transmission because the remote store rejects
// null values.
//
// # Usage
//
//	task := schema.Task{Title: "Renew passport", Important: true}
//	task.SetDefaults(time.Now())
//	if err := task.Validate(); err != nil {
//	    return err
//	}
//
//	title := "Renew passport (urgent)"
//	schema.TaskPatch{Title: &title}.Apply(&task, time.Now())
package schema
