package events

import (
	"time"

	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

const (
	TopicDataUpdated     Topic = "data_updated"
	TopicReminderFired   Topic = "reminder_fired"
	TopicSyncStatus      Topic = "sync_status"
	TopicIdentityChanged Topic = "identity_changed"
	TopicShareUpdated    Topic = "share_updated"
)

// Sources of a DataUpdated event.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
	SourceCache  = "cache"
	SourceImport = "import"
)

// DataUpdated reports that a local collection changed.
type DataUpdated struct {
	Kind   schema.Kind `json:"kind"`
	Source string      `json:"source"`
}

func (DataUpdated) Topic() Topic { return TopicDataUpdated }

// ReminderFired reports a delivered reminder.
type ReminderFired struct {
	TaskID string    `json:"taskId"`
	Title  string    `json:"title"`
	At     time.Time `json:"at"`
}

func (ReminderFired) Topic() Topic { return TopicReminderFired }

// SyncStatus is the cloud mirror's observable state.
type SyncStatus struct {
	// Available is true when a remote backend is configured and the identity
	// is durable.
	Available bool `json:"available"`
	// Active is true while realtime subscriptions are established.
	Active           bool       `json:"active"`
	LastError        string     `json:"lastError,omitempty"`
	LastErrorAt      *time.Time `json:"lastErrorAt,omitempty"`
	LastPushAt       *time.Time `json:"lastPushAt,omitempty"`
	LastPullAt       *time.Time `json:"lastPullAt,omitempty"`
	PermissionDenied bool       `json:"permissionDenied"`
}

// SyncStatusChanged carries a new SyncStatus snapshot.
type SyncStatusChanged struct {
	Status SyncStatus `json:"status"`
}

func (SyncStatusChanged) Topic() Topic { return TopicSyncStatus }

// IdentityChanged reports a sign-in or sign-out transition.
type IdentityChanged struct {
	PreviousID      string `json:"previousId"`
	PreviousDurable bool   `json:"previousDurable"`
	CurrentID       string `json:"currentId"`
	CurrentDurable  bool   `json:"currentDurable"`
}

func (IdentityChanged) Topic() Topic { return TopicIdentityChanged }

// ShareUpdated reports a mutation of a shared envelope.
type ShareUpdated struct {
	Code    string      `json:"code"`
	Kind    schema.Kind `json:"kind"`
	Revoked bool        `json:"revoked"`
}

func (ShareUpdated) Topic() Topic { return TopicShareUpdated }
