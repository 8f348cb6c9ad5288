package domain

import "time"

// Well-known metric names maintained by the task store.
const (
	MetricSubmitted = "submitted"
	MetricCompleted = "completed"
	MetricFailed    = "failed"
)

// Metric is a named, monotonically increasing counter.
type Metric struct {
	Name      string    `json:"name"`
	Value     int64     `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MetricValues indexes counter values by name.
func MetricValues(metrics []Metric) map[string]int64 {
	values := make(map[string]int64, len(metrics))
	for _, m := range metrics {
		values[m.Name] = m.Value
	}
	return values
}
