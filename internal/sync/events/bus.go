// Package events is the in-process publish/subscribe bus that lets the sync
// core notify its collaborators (dashboard, CLI, daemon) about state changes.
//
// Delivery is synchronous: Publish calls every subscriber of the event's topic
// in subscription order before returning. Subscribers must not block.
package events

import (
	"sort"
	"sync"
)

// Topic names a class of events.
type Topic string

// Event is anything that can be published on the bus.
type Event interface {
	Topic() Topic
}

type subscriber struct {
	id int
	fn func(Event)
}

// Bus fans events out to subscribers. The zero value is not usable; call New.
// A nil *Bus silently drops published events.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[Topic][]subscriber
	all    []subscriber
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[Topic][]subscriber)}
}

// Subscribe registers fn for every event of type T. The returned function
// removes the subscription and may be called any number of times.
func Subscribe[T Event](b *Bus, fn func(T)) func() {
	var zero T
	topic := zero.Topic()
	return b.subscribe(topic, func(e Event) {
		if typed, ok := e.(T); ok {
			fn(typed)
		}
	})
}

// SubscribeAll registers fn for every published event regardless of topic.
func (b *Bus) SubscribeAll(fn func(Event)) func() {
	return b.subscribe("", fn)
}

func (b *Bus) subscribe(topic Topic, fn func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	sub := subscriber{id: b.nextID, fn: fn}
	if topic == "" {
		b.all = append(b.all, sub)
	} else {
		b.topics[topic] = append(b.topics[topic], sub)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, sub.id) })
	}
}

func (b *Bus) unsubscribe(topic Topic, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remove := func(subs []subscriber) []subscriber {
		out := subs[:0]
		for _, s := range subs {
			if s.id != id {
				out = append(out, s)
			}
		}
		return out
	}
	if topic == "" {
		b.all = remove(b.all)
		return
	}
	b.topics[topic] = remove(b.topics[topic])
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

// Publish delivers e to the topic's subscribers and then to the catch-all
// subscribers, each group in subscription order.
func (b *Bus) Publish(e Event) {
	if b == nil || e == nil {
		return
	}

	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.topics[e.Topic()])+len(b.all))
	subs = append(subs, b.topics[e.Topic()]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}

// Topics lists topics that currently have at least one subscriber.
func (b *Bus) Topics() []Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]Topic, 0, len(b.topics))
	for t := range b.topics {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}
