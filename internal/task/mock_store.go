package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/domain"
)

// ErrUnknownLease is returned when a lease did not come from this queue or
// has already ended.
var ErrUnknownLease = errors.New("unknown or released lease")

// MemoryQueue is an in-memory Queue with the same claim semantics as the
// database store. Locked tasks are skipped, not waited on. It is intended
// for tests.
type MemoryQueue struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]domain.Task
	locked  map[uuid.UUID]bool
	metrics map[string]int64

	// Now is the queue's clock; defaults to time.Now.
	Now func() time.Time

	// CommitFn, when set, replaces the default commit behavior.
	CommitFn func(ctx context.Context, lease Lease, m Mutation) error

	Commits  int
	Abandons int
}

type memoryLease struct {
	task domain.Task
}

func (l *memoryLease) Task() domain.Task { return l.task }

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		tasks:   make(map[uuid.UUID]domain.Task),
		locked:  make(map[uuid.UUID]bool),
		metrics: make(map[string]int64),
		Now:     time.Now,
	}
}

var _ Queue = (*MemoryQueue)(nil)

// Add stores t as-is.
func (q *MemoryQueue) Add(t domain.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[t.ID] = t
}

// Get returns the stored task.
func (q *MemoryQueue) Get(id uuid.UUID) (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	return t, ok
}

// Metric returns the current value of a counter.
func (q *MemoryQueue) Metric(name string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.metrics[name]
}

// ClaimNext locks the oldest claimable, unlocked task.
func (q *MemoryQueue) ClaimNext(ctx context.Context, leaseTTL time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	candidates := make([]domain.Task, 0, len(q.tasks))
	for id, t := range q.tasks {
		if q.locked[id] || !t.Claimable(now, leaseTTL) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, ErrQueueEmpty
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID.String() < candidates[j].ID.String()
	})

	claimed := candidates[0]
	q.locked[claimed.ID] = true
	return &memoryLease{task: claimed}, nil
}

// Commit applies m and releases the lease.
func (q *MemoryQueue) Commit(ctx context.Context, lease Lease, m Mutation) error {
	if q.CommitFn != nil {
		if err := q.CommitFn(ctx, lease, m); err != nil {
			return err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := lease.Task().ID
	if !q.locked[id] {
		return ErrUnknownLease
	}
	delete(q.locked, id)

	q.tasks[id] = m.Apply(q.tasks[id], q.Now())
	if m.Metric != "" {
		q.metrics[m.Metric]++
	}
	q.Commits++
	return nil
}

// Abandon releases the lease without changes.
func (q *MemoryQueue) Abandon(_ context.Context, lease Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := lease.Task().ID
	if !q.locked[id] {
		return ErrUnknownLease
	}
	delete(q.locked, id)
	q.Abandons++
	return nil
}
