package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/pdfscan/internal/events"
	"github.com/phrazzld/pdfscan/internal/store"
)

// maxNotifyPayload is PostgreSQL's NOTIFY payload limit, less one byte.
const maxNotifyPayload = 7999

// Notifier publishes events to other processes with pg_notify.
type Notifier struct {
	db      store.DBTX
	channel string
	logger  *slog.Logger
}

var _ events.Publisher = (*Notifier)(nil)

// NewNotifier creates a Notifier on channel.
func NewNotifier(db store.DBTX, channel string, logger *slog.Logger) *Notifier {
	return &Notifier{
		db:      db,
		channel: channel,
		logger:  logger.With("component", "notifier", "channel", channel),
	}
}

// Publish sends event as a JSON notification payload.
func (n *Notifier) Publish(ctx context.Context, event events.Event) error {
	payload, err := events.Encode(event)
	if err != nil {
		return err
	}
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("event %s payload of %d bytes exceeds notify limit", event.Type, len(payload))
	}

	if _, err := n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.channel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify %s: %w", n.channel, err)
	}

	n.logger.Debug("event notified", "event_type", event.Type, "payload_bytes", len(payload))
	return nil
}
