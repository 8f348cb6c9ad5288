package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phrazzld/pdfscan/internal/events"
	"github.com/sethvargo/go-retry"
)

const (
	listenerBaseDelay = 500 * time.Millisecond
	listenerMaxDelay  = 30 * time.Second
)

// Listener receives notifications published by Notifier, in this or any
// other process, and republishes them locally.
type Listener struct {
	pool      *pgxpool.Pool
	channel   string
	publisher events.Publisher
	logger    *slog.Logger

	// OnReconnect runs after LISTEN is re-established following a lost
	// connection. Notifications sent while disconnected are not replayed.
	OnReconnect func()
}

// NewListener creates a Listener that forwards channel to publisher.
func NewListener(pool *pgxpool.Pool, channel string, publisher events.Publisher, logger *slog.Logger) *Listener {
	return &Listener{
		pool:      pool,
		channel:   channel,
		publisher: publisher,
		logger:    logger.With("component", "listener", "channel", channel),
	}
}

// Run listens until ctx is done, reconnecting with capped exponential
// backoff whenever the connection is lost.
func (l *Listener) Run(ctx context.Context) error {
	backoff := newListenerBackoff()
	connected := false

	for {
		err := l.listen(ctx, func() {
			if connected && l.OnReconnect != nil {
				l.OnReconnect()
			}
			connected = true
			backoff = newListenerBackoff()
		})
		if ctx.Err() != nil {
			return nil
		}

		delay, _ := backoff.Next()
		l.logger.Warn("listener disconnected, retrying", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (l *Listener) listen(ctx context.Context, onReady func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		// A LISTENing connection must not be reused; closing it makes the
		// pool discard it on release.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	l.logger.Info("listening for notifications")
	onReady()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("failed waiting for notification: %w", err)
		}
		l.dispatch(ctx, n.Payload)
	}
}

func (l *Listener) dispatch(ctx context.Context, payload string) {
	event, err := events.Decode([]byte(payload))
	if err != nil {
		l.logger.Warn("dropping malformed notification", "error", err)
		return
	}
	if err := l.publisher.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Warn("failed to republish notification", "event_type", event.Type, "error", err)
	}
}

func newListenerBackoff() retry.Backoff {
	b := retry.NewExponential(listenerBaseDelay)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(listenerMaxDelay, b)
}
