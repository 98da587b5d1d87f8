package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/reminder"
)

// Handler bridges the event bus and reminder notifications to the server.
type Handler struct {
	server *Server
	logger zerolog.Logger
	now    func() time.Time
}

var _ reminder.Notifier = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger zerolog.Logger) *Handler {
	return &Handler{
		server: server,
		logger: logger.With().Str("component", "dashboard").Logger(),
		now:    time.Now,
	}
}

// Attach forwards every bus event to the server until the returned func is
// called.
func (h *Handler) Attach(bus *events.Bus) func() {
	return bus.SubscribeAll(h.OnEvent)
}

// OnEvent broadcasts e with its topic as the message type.
func (h *Handler) OnEvent(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", string(e.Topic())).Msg("failed to marshal event")
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageType(e.Topic()),
		Timestamp: h.now(),
		Data:      data,
	})
}

// Notify implements reminder.Notifier.
func (h *Handler) Notify(_ context.Context, n reminder.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeNotification,
		Timestamp: h.now(),
		Data:      data,
	})
	return nil
}
