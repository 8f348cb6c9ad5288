package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/domain"
)

// EventType identifies the kind of change an Event describes.
type EventType string

// Event types delivered to subscribers.
const (
	EventTaskCreated    EventType = "task_created"
	EventTaskChanged    EventType = "task_changed"
	EventMetricsChanged EventType = "metrics_changed"

	// Baseline events are only sent to a subscriber when it attaches.
	EventInitialTasks   EventType = "initial_tasks"
	EventInitialMetrics EventType = "initial_metrics"
)

// ReportPathPrefix is where completed scan reports are served from.
const ReportPathPrefix = "/reports/"

// TaskSnapshot is the full observable state of a task at one instant.
type TaskSnapshot struct {
	ID           uuid.UUID `json:"id"`
	Description  string    `json:"description"`
	Filename     string    `json:"filename"`
	Status       string    `json:"status"`
	FileSize     string    `json:"file_size"`
	CreatedAt    string    `json:"created_at"`
	ErrorMessage *string   `json:"error_message"`
	ReportURL    *string   `json:"report_url"`
	ResultURL    *string   `json:"result_url"`
	HeartbeatAt  *string   `json:"heartbeat_at,omitempty"`
}

// Event is a single notification. Exactly one of Task, Tasks or Metrics is
// populated, depending on Type.
type Event struct {
	Type    EventType        `json:"type"`
	Task    *TaskSnapshot    `json:"task,omitempty"`
	Tasks   []TaskSnapshot   `json:"tasks,omitempty"`
	Metrics map[string]int64 `json:"metrics,omitempty"`
	At      time.Time        `json:"at"`
}

// Publisher is the outbound side of the notification bus.
// Implementations must not block the caller for long; the caller treats
// any returned error as informational.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish calls f(ctx, event).
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NewTaskSnapshot renders a task for observers.
func NewTaskSnapshot(t domain.Task) TaskSnapshot {
	snap := TaskSnapshot{
		ID:          t.ID,
		Description: t.Description,
		Filename:    t.OriginalFilename,
		Status:      string(t.Status),
		FileSize:    domain.FormatSize(t.SizeBytes),
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	if t.ErrorMessage != "" {
		msg := t.ErrorMessage
		snap.ErrorMessage = &msg
	}
	if t.ResultRef != "" {
		report := ReportPathPrefix + t.ID.String() + ".json"
		snap.ReportURL = &report
	}
	if t.ResultURL != "" {
		resultURL := t.ResultURL
		snap.ResultURL = &resultURL
	}
	if t.HeartbeatAt != nil {
		hb := t.HeartbeatAt.UTC().Format(time.RFC3339Nano)
		snap.HeartbeatAt = &hb
	}

	return snap
}

// TaskCreated builds a task_created event.
func TaskCreated(t domain.Task) Event {
	snap := NewTaskSnapshot(t)
	return Event{Type: EventTaskCreated, Task: &snap, At: time.Now().UTC()}
}

// TaskChanged builds a task_changed event.
func TaskChanged(t domain.Task) Event {
	snap := NewTaskSnapshot(t)
	return Event{Type: EventTaskChanged, Task: &snap, At: time.Now().UTC()}
}

// MetricsChanged builds a metrics_changed event carrying every counter.
func MetricsChanged(metrics map[string]int64) Event {
	return Event{Type: EventMetricsChanged, Metrics: copyMetrics(metrics), At: time.Now().UTC()}
}

// Encode serializes an event for transport.
func Encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// Decode parses an event produced by Encode.
func Decode(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("failed to decode event: missing type")
	}
	return event, nil
}

func copyMetrics(metrics map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(metrics))
	for k, v := range metrics {
		out[k] = v
	}
	return out
}
