package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/pdfscan/internal/domain"
)

// ErrBusClosed is returned by Subscribe after Close.
var ErrBusClosed = errors.New("event bus is closed")

// BaselineSource provides the state a fresh subscriber starts from.
type BaselineSource interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Task, error)
	Metrics(ctx context.Context) (map[string]int64, error)
}

// Bus is an in-process fan-out of published events to subscribers.
// It implements Publisher.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

type subscriber struct {
	ch chan Event
}

// NewBus creates a Bus whose subscribers each buffer up to bufferSize
// undelivered events before being dropped.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Bus{
		subscribers: make(map[*subscriber]struct{}),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "event_bus"),
	}
}

var _ Publisher = (*Bus)(nil)

// Publish delivers event to every current subscriber without blocking.
// A subscriber whose buffer is full is disconnected; it has missed state
// and must resubscribe to obtain a fresh baseline.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("dropping lagging subscriber",
				"event_type", event.Type,
				"buffer_size", b.bufferSize)
			b.removeLocked(sub)
		}
	}

	return nil
}

// Subscribe attaches a new subscriber. The returned channel yields an
// initial_tasks and an initial_metrics event built from source, followed
// by every event published after the subscription was registered. The
// channel is closed when ctx is done, when the subscriber falls behind,
// or when the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, source BaselineSource, limit int) (<-chan Event, error) {
	sub := &subscriber{ch: make(chan Event, b.bufferSize)}

	// Register before reading the baseline so no commit falls between the two.
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	baseline, err := loadBaseline(ctx, source, limit)
	if err != nil {
		b.remove(sub)
		return nil, err
	}

	out := make(chan Event)
	go b.relay(ctx, sub, baseline, out)

	b.logger.Debug("subscriber attached", "subscriber_count", b.Count())
	return out, nil
}

// Count returns the number of attached subscribers.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close disconnects every subscriber and rejects new ones.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		b.removeLocked(sub)
	}
}

// DisconnectAll closes every current subscriber's channel so that each
// reattaches with a fresh baseline. New subscriptions are still accepted.
func (b *Bus) DisconnectAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		b.removeLocked(sub)
	}
}

func (b *Bus) relay(ctx context.Context, sub *subscriber, baseline []Event, out chan<- Event) {
	defer close(out)
	defer b.remove(sub)

	for _, event := range baseline {
		select {
		case out <- event:
		case <-ctx.Done():
			return
		}
	}

	for {
		select {
		case event, ok := <-sub.ch:
			if !ok {
				return
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Bus) removeLocked(sub *subscriber) {
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}

func loadBaseline(ctx context.Context, source BaselineSource, limit int) ([]Event, error) {
	tasks, err := source.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline tasks: %w", err)
	}

	metrics, err := source.Metrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline metrics: %w", err)
	}

	snapshots := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		snapshots = append(snapshots, NewTaskSnapshot(t))
	}

	now := time.Now().UTC()
	return []Event{
		{Type: EventInitialTasks, Tasks: snapshots, At: now},
		{Type: EventInitialMetrics, Metrics: copyMetrics(metrics), At: now},
	}, nil
}
