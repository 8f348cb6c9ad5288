// Package events carries committed task and metric changes to observers.
//
// The task store writes to a Publisher after every successful commit; the
// Bus fans published events out to subscribers. A new subscriber first
// receives a baseline (recent task snapshots and all metric values) and
// then incremental events in publish order:
//   - task_created: a task was submitted
//   - task_changed: a task's status, error, result or heartbeat changed
//   - metrics_changed: a counter moved; carries every current value
//
// Delivery is at-least-once and best-effort. Publishing never blocks and a
// failed publish never affects the change that triggered it.
package events
