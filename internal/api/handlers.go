package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/api/shared"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/events"
	"github.com/phrazzld/pdfscan/internal/platform/logger"
	"github.com/phrazzld/pdfscan/internal/service"
	"github.com/phrazzld/pdfscan/internal/upload"
)

const (
	// RecentTasksLimit caps GET /tasks.
	RecentTasksLimit = 100

	// multipartMemory is how much of a multipart body is buffered in memory
	// before spilling to temporary files.
	multipartMemory = 32 << 20

	// multipartOverhead allows for form fields and boundaries on top of the
	// document size limit.
	multipartOverhead = 1 << 20
)

// TaskQueries reads tasks, counters and reports.
type TaskQueries interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Task, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Task, error)
	Metrics(ctx context.Context) (map[string]int64, error)
	Report(ctx context.Context, id uuid.UUID) (domain.Task, json.RawMessage, error)
}

// TaskHandler serves the upload and task endpoints.
type TaskHandler struct {
	submissions        service.SubmissionService
	tasks              TaskQueries
	subscribers        func() int
	analysisConfigured bool
	maxUploadBytes     int64
	logger             *slog.Logger
}

// TaskHandlerConfig holds TaskHandler dependencies.
type TaskHandlerConfig struct {
	Submissions        service.SubmissionService
	Tasks              TaskQueries
	Subscribers        func() int
	AnalysisConfigured bool
	MaxUploadBytes     int64
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(cfg TaskHandlerConfig, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Subscribers == nil {
		cfg.Subscribers = func() int { return 0 }
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = upload.DefaultMaxBytes
	}
	return &TaskHandler{
		submissions:        cfg.Submissions,
		tasks:              cfg.Tasks,
		subscribers:        cfg.Subscribers,
		analysisConfigured: cfg.AnalysisConfigured,
		maxUploadBytes:     cfg.MaxUploadBytes,
		logger:             logger.With("component", "task_handler"),
	}
}

// Upload handles POST /upload.
func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			HandleAPIError(w, r, err, "")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Warn("failed to remove multipart temp files", "error", err)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		HandleAPIError(w, r, upload.ErrNoFile, "")
		return
	}
	defer func() { _ = file.Close() }()

	req := upload.Request{
		Filename:    header.Filename,
		Description: r.FormValue("description"),
	}

	result, err := h.submissions.Submit(r.Context(), req, file)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit file")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, uploadToResponse(result.Task, result.Hash))
}

// ListTasks handles GET /tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.ListRecent(r.Context(), RecentTasksLimit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, tasksToSnapshots(tasks))
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTaskID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, events.NewTaskSnapshot(t))
}

// GetScanResults handles GET /scan-results/{id}.
func (h *TaskHandler) GetScanResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTaskID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	t, raw, err := h.tasks.Report(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get scan results")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ScanResultResponse{
		Task:        events.NewTaskSnapshot(t),
		ScanResults: raw,
	})
}

// GetReport handles GET /reports/{file}, where file is <task_id>.json.
func (h *TaskHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	if !strings.HasSuffix(file, ".json") {
		HandleAPIError(w, r, service.ErrReportNotFound, "")
		return
	}
	id, ok := pathTaskID(w, r, strings.TrimSuffix(file, ".json"))
	if !ok {
		return
	}

	_, raw, err := h.tasks.Report(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrScanNotCompleted) {
			err = service.ErrReportNotFound
		}
		HandleAPIError(w, r, err, "Failed to get report")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Error("failed to write report", "error", err)
	}
}

// GetMetrics handles GET /metrics.
func (h *TaskHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.tasks.Metrics(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get metrics")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, metrics)
}

// Health handles GET /health.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:             "healthy",
		Timestamp:          time.Now().UTC(),
		Subscribers:        h.subscribers(),
		AnalysisConfigured: h.analysisConfigured,
	})
}

func pathTaskID(w http.ResponseWriter, r *http.Request, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.FromContext(r.Context()).Debug("invalid task id", "value", raw)
		HandleAPIError(w, r, domain.ErrInvalidID, "")
		return uuid.Nil, false
	}
	return id, true
}
