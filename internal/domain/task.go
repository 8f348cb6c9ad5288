package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the position of a scan task in its lifecycle
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// Field limits enforced by the tasks table.
const (
	MaxDescriptionLength = 500
	MaxFilenameLength    = 255
)

// Common validation errors for Task
var (
	ErrEmptyTaskID          = fmt.Errorf("%w: task ID cannot be empty", ErrValidation)
	ErrEmptyTaskDescription = fmt.Errorf("%w: task description cannot be empty", ErrValidation)
	ErrEmptyTaskFilename    = fmt.Errorf("%w: task filename cannot be empty", ErrValidation)
	ErrEmptyContentRef      = fmt.Errorf("%w: task content reference cannot be empty", ErrValidation)
	ErrEmptyContentHash     = fmt.Errorf("%w: task content hash cannot be empty", ErrValidation)
	ErrInvalidTaskSize      = fmt.Errorf("%w: task size must be positive", ErrValidation)
	ErrInvalidTaskStatus    = fmt.Errorf("%w: invalid task status", ErrValidation)
)

// Task is a single document submitted for malicious-content scanning.
// Optional provider fields are empty strings until they are known.
type Task struct {
	ID               uuid.UUID  `json:"id"`
	Description      string     `json:"description"`
	OriginalFilename string     `json:"original_filename"`
	ContentRef       string     `json:"content_ref"`
	ContentHash      string     `json:"content_hash"`
	SizeBytes        int64      `json:"size_bytes"`
	Status           TaskStatus `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	AnalysisID       string     `json:"analysis_id,omitempty"`
	ResultRef        string     `json:"result_ref,omitempty"`
	ResultURL        string     `json:"result_url,omitempty"`
	HeartbeatAt      *time.Time `json:"heartbeat_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Submission carries the producer-supplied metadata for a new task.
type Submission struct {
	Description      string
	OriginalFilename string
	ContentRef       string
	ContentHash      string
	SizeBytes        int64
}

// NewTask creates a PENDING task from a submission.
// Returns an error if validation fails.
func NewTask(sub Submission) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:               uuid.New(),
		Description:      sub.Description,
		OriginalFilename: sub.OriginalFilename,
		ContentRef:       sub.ContentRef,
		ContentHash:      sub.ContentHash,
		SizeBytes:        sub.SizeBytes,
		Status:           TaskStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Description == "" {
		return ErrEmptyTaskDescription
	}
	if len(t.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrValidation, MaxDescriptionLength)
	}

	if t.OriginalFilename == "" {
		return ErrEmptyTaskFilename
	}
	if len(t.OriginalFilename) > MaxFilenameLength {
		return fmt.Errorf("%w: filename exceeds %d characters", ErrValidation, MaxFilenameLength)
	}

	if t.ContentRef == "" {
		return ErrEmptyContentRef
	}

	if t.ContentHash == "" {
		return ErrEmptyContentHash
	}

	if t.SizeBytes <= 0 {
		return ErrInvalidTaskSize
	}

	if !t.Status.Valid() {
		return ErrInvalidTaskStatus
	}

	return nil
}

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// LeaseExpired reports whether a RUNNING task's heartbeat is missing or older
// than ttl at the given instant. Tasks in other states never hold a lease.
func (t *Task) LeaseExpired(now time.Time, ttl time.Duration) bool {
	if t.Status != TaskStatusRunning {
		return false
	}
	return t.HeartbeatAt == nil || t.HeartbeatAt.Before(now.Add(-ttl))
}

// Claimable reports whether the task is eligible for the claim protocol.
func (t *Task) Claimable(now time.Time, ttl time.Duration) bool {
	return t.Status == TaskStatusPending || t.LeaseExpired(now, ttl)
}
