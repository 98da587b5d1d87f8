package events

import (
	"testing"

	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

func TestSubscribe_TypedDelivery(t *testing.T) {
	b := New()

	var got []DataUpdated
	unsub := Subscribe(b, func(e DataUpdated) { got = append(got, e) })
	defer unsub()

	var fired int
	Subscribe(b, func(ReminderFired) { fired++ })

	b.Publish(DataUpdated{Kind: schema.KindTask, Source: SourceLocal})
	b.Publish(ReminderFired{TaskID: "t1"})
	b.Publish(DataUpdated{Kind: schema.KindContact, Source: SourceRemote})

	if len(got) != 2 {
		t.Fatalf("received %d DataUpdated events, want 2", len(got))
	}
	if got[0].Kind != schema.KindTask || got[1].Kind != schema.KindContact {
		t.Errorf("events out of order: %+v", got)
	}
	if fired != 1 {
		t.Errorf("ReminderFired delivered %d times, want 1", fired)
	}
}

func TestSubscribe_OrderAndUnsubscribe(t *testing.T) {
	b := New()

	var order []string
	unsubA := Subscribe(b, func(ShareUpdated) { order = append(order, "a") })
	Subscribe(b, func(ShareUpdated) { order = append(order, "b") })
	b.SubscribeAll(func(Event) { order = append(order, "all") })

	b.Publish(ShareUpdated{Code: "x"})
	unsubA()
	unsubA()
	b.Publish(ShareUpdated{Code: "y"})

	want := []string{"a", "b", "all", "b", "all"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPublish_NilBus(t *testing.T) {
	var b *Bus
	b.Publish(DataUpdated{Kind: schema.KindTask})
}

func TestTopics(t *testing.T) {
	b := New()
	unsub := Subscribe(b, func(SyncStatusChanged) {})
	Subscribe(b, func(IdentityChanged) {})

	topics := b.Topics()
	if len(topics) != 2 || topics[0] != TopicIdentityChanged || topics[1] != TopicSyncStatus {
		t.Errorf("Topics() = %v", topics)
	}

	unsub()
	if topics := b.Topics(); len(topics) != 1 {
		t.Errorf("Topics() after unsubscribe = %v", topics)
	}
}
