package reminder

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Notification is delivered to the user's notification sink.
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Tag   string         `json:"tag"`
	Data  map[string]any `json:"data,omitempty"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a logger. It is the sink used when no
// UI collaborator is attached.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info().
		Str("tag", n.Tag).
		Str("title", n.Title).
		Str("body", n.Body).
		Msg("reminder")
	return nil
}

// MultiNotifier fans a notification out to every notifier and joins their
// errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
