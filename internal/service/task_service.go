package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/store"
)

// TaskReader reads task state and counters.
type TaskReader interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Task, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Task, error)
	Metrics(ctx context.Context) (map[string]int64, error)
}

// ReportReader reads stored provider reports.
type ReportReader interface {
	Read(ctx context.Context, ref string) ([]byte, error)
}

// TaskService answers queries about tasks and their results.
type TaskService struct {
	tasks   TaskReader
	reports ReportReader
	logger  *slog.Logger
}

// NewTaskService creates a TaskService.
func NewTaskService(tasks TaskReader, reports ReportReader, logger *slog.Logger) *TaskService {
	return &TaskService{
		tasks:   tasks,
		reports: reports,
		logger:  logger.With("component", "task_service"),
	}
}

// Get returns a task or ErrTaskNotFound.
func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return domain.Task{}, ErrTaskNotFound
		}
		return domain.Task{}, NewServiceError("get_task", "failed to read task", err)
	}
	return t, nil
}

// ListRecent returns up to limit tasks, newest first.
func (s *TaskService) ListRecent(ctx context.Context, limit int) ([]domain.Task, error) {
	tasks, err := s.tasks.ListRecent(ctx, limit)
	if err != nil {
		return nil, NewServiceError("list_tasks", "failed to list tasks", err)
	}
	return tasks, nil
}

// Metrics returns every counter.
func (s *TaskService) Metrics(ctx context.Context) (map[string]int64, error) {
	metrics, err := s.tasks.Metrics(ctx)
	if err != nil {
		return nil, NewServiceError("metrics", "failed to read metrics", err)
	}
	return metrics, nil
}

// Report returns a completed task's stored provider report verbatim.
func (s *TaskService) Report(ctx context.Context, id uuid.UUID) (domain.Task, json.RawMessage, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if t.Status != domain.TaskStatusCompleted {
		return t, nil, ErrScanNotCompleted
	}
	if t.ResultRef == "" {
		return t, nil, ErrReportNotFound
	}

	raw, err := s.reports.Read(ctx, t.ResultRef)
	if err != nil {
		s.logger.Warn("failed to read scan report", "task_id", id, "result_ref", t.ResultRef, "error", err)
		return t, nil, ErrReportNotFound
	}
	if !json.Valid(raw) {
		return t, nil, NewServiceError("scan_result", "stored report is not valid JSON", store.ErrInvalidEntity)
	}
	return t, json.RawMessage(raw), nil
}
