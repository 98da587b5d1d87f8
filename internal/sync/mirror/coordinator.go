package mirror

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/identity"
)

// Subscriber opens and closes realtime subscriptions for an identity.
type Subscriber interface {
	Subscribe(ctx context.Context, identityID string) error
	Unsubscribe()
}

// IdentityWatcher is the identity provider as seen by the Coordinator.
type IdentityWatcher interface {
	Current() identity.State
	OnChange(fn identity.ChangeFunc) func()
}

// Coordinator reacts to identity transitions:
//
//   - anonymous → durable: Reconcile once, then subscribe
//   - durable → anonymous: unsubscribe
//   - durable → another durable: unsubscribe, Reconcile, subscribe
//
// At Start an already durable identity is subscribed without reconciling.
type Coordinator struct {
	mirror     *Mirror
	ids        IdentityWatcher
	subscriber Subscriber
	bus        *events.Bus
	logger     zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	stopFn  func()
	started bool
}

// NewCoordinator wires a coordinator. subscriber may be nil when realtime
// updates are not wanted (one-shot CLI commands).
func NewCoordinator(m *Mirror, ids IdentityWatcher, subscriber Subscriber, bus *events.Bus, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		mirror:     m,
		ids:        ids,
		subscriber: subscriber,
		bus:        bus,
		logger:     logger.With().Str("component", "coordinator").Logger(),
	}
}

// Start begins watching identity changes. ctx bounds the remote work done on
// transitions. Calling Start twice is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.ctx = ctx
	c.mu.Unlock()

	st := c.ids.Current()
	if st.Durable && c.mirror.Configured() {
		c.subscribe(ctx, st.ID)
	}

	unsub := c.ids.OnChange(c.handle)
	c.mu.Lock()
	c.stopFn = unsub
	c.mu.Unlock()
	return nil
}

// Stop detaches from the identity provider and closes subscriptions.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	stop := c.stopFn
	c.stopFn = nil
	c.started = false
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if c.subscriber != nil {
		c.subscriber.Unsubscribe()
	}
}

func (c *Coordinator) handle(prev, cur identity.State) {
	c.bus.Publish(events.IdentityChanged{
		PreviousID:      prev.ID,
		PreviousDurable: prev.Durable,
		CurrentID:       cur.ID,
		CurrentDurable:  cur.Durable,
	})

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if prev.Durable && c.subscriber != nil {
		c.subscriber.Unsubscribe()
	}
	if !cur.Durable || !c.mirror.Configured() {
		return
	}
	if prev.Durable && prev.ID == cur.ID {
		c.subscribe(ctx, cur.ID)
		return
	}

	if _, err := c.mirror.Reconcile(ctx, cur.ID); err != nil {
		c.logger.Error().Err(err).Str("identity", cur.ID).Msg("reconcile after sign-in failed")
	}
	c.subscribe(ctx, cur.ID)
}

func (c *Coordinator) subscribe(ctx context.Context, identityID string) {
	if c.subscriber == nil {
		return
	}
	if err := c.subscriber.Subscribe(ctx, identityID); err != nil {
		c.logger.Error().Err(err).Str("identity", identityID).Msg("realtime subscribe failed")
	}
}
