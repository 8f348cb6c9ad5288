package task

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/domain"
)

// DefaultLeaseTTL is how long a RUNNING task's heartbeat stays valid.
const DefaultLeaseTTL = 15 * time.Second

// ErrQueueEmpty is returned by ClaimNext when no task is claimable.
var ErrQueueEmpty = errors.New("no claimable task")

// Lease is exclusive, transaction-scoped ownership of one task.
// It must be ended by exactly one Commit or Abandon.
type Lease interface {
	// Task returns the task as it was when claimed.
	Task() domain.Task
}

// HeartbeatOp says what a commit does to the heartbeat timestamp.
type HeartbeatOp int

// Heartbeat operations.
const (
	HeartbeatKeep HeartbeatOp = iota
	HeartbeatRefresh
	HeartbeatClear
)

// String returns the operation name for logging.
func (op HeartbeatOp) String() string {
	switch op {
	case HeartbeatRefresh:
		return "refresh"
	case HeartbeatClear:
		return "clear"
	default:
		return "keep"
	}
}

// Mutation is the full set of mutable task fields written by a commit.
// Fields are applied verbatim; start from MutationFor to keep values the
// transition does not touch.
type Mutation struct {
	Status       domain.TaskStatus
	ErrorMessage string
	AnalysisID   string
	ResultRef    string
	ResultURL    string
	Heartbeat    HeartbeatOp

	// Metric, when set, is incremented in the same transaction.
	Metric string
}

// MutationFor returns a mutation that leaves t unchanged.
func MutationFor(t domain.Task) Mutation {
	return Mutation{
		Status:       t.Status,
		ErrorMessage: t.ErrorMessage,
		AnalysisID:   t.AnalysisID,
		ResultRef:    t.ResultRef,
		ResultURL:    t.ResultURL,
		Heartbeat:    HeartbeatKeep,
	}
}

// Apply returns t with the mutation applied at the given instant.
func (m Mutation) Apply(t domain.Task, now time.Time) domain.Task {
	t.Status = m.Status
	t.ErrorMessage = m.ErrorMessage
	t.AnalysisID = m.AnalysisID
	t.ResultRef = m.ResultRef
	t.ResultURL = m.ResultURL
	switch m.Heartbeat {
	case HeartbeatRefresh:
		hb := now
		t.HeartbeatAt = &hb
	case HeartbeatClear:
		t.HeartbeatAt = nil
	}
	t.UpdatedAt = now
	return t
}

// Queue is the claim protocol over the durable task store.
type Queue interface {
	// ClaimNext locks the oldest claimable task, skipping tasks locked by
	// other workers. It returns ErrQueueEmpty when nothing is claimable.
	ClaimNext(ctx context.Context, leaseTTL time.Duration) (Lease, error)

	// Commit persists the mutation, ends the lease and notifies observers.
	Commit(ctx context.Context, lease Lease, m Mutation) error

	// Abandon ends the lease without writing anything.
	Abandon(ctx context.Context, lease Lease) error
}

// ContentSource reads stored upload content by reference.
type ContentSource interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// ArtifactStore persists provider reports and returns their reference.
type ArtifactStore interface {
	Save(ctx context.Context, taskID uuid.UUID, raw []byte) (string, error)
}
