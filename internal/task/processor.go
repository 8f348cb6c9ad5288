package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/pdfscan/internal/analysis"
	"github.com/phrazzld/pdfscan/internal/domain"
)

// ErrNotProcessable is returned for a claimed task in a terminal state.
var ErrNotProcessable = errors.New("task is not in a processable state")

// TaskProcessor computes the next state of a claimed task.
type TaskProcessor interface {
	Process(ctx context.Context, t domain.Task) (Mutation, error)
}

// Processor drives a task one step through the scan state machine:
//
//	PENDING  -> RUNNING    document uploaded, analysis id recorded
//	PENDING  -> FAILED     upload rejected or content unreadable
//	RUNNING  -> RUNNING    provider still working; heartbeat refreshed
//	RUNNING  -> COMPLETED  report persisted
//	RUNNING  -> FAILED     provider gave up or reported an unknown status
//	RUNNING  -> PENDING    no analysis id recorded; reset quietly
//
// Every failure, expected or not, ends in FAILED with a message.
type Processor struct {
	client    analysis.Client
	content   ContentSource
	artifacts ArtifactStore
	logger    *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(
	client analysis.Client,
	content ContentSource,
	artifacts ArtifactStore,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		client:    client,
		content:   content,
		artifacts: artifacts,
		logger:    logger.With("component", "task_processor"),
	}
}

var _ TaskProcessor = (*Processor)(nil)

// Process returns the mutation for t. An error means the task must be
// abandoned rather than committed.
func (p *Processor) Process(ctx context.Context, t domain.Task) (Mutation, error) {
	log := p.logger.With("task_id", t.ID, "status", t.Status)

	switch t.Status {
	case domain.TaskStatusPending:
		return p.submit(ctx, t, log), nil
	case domain.TaskStatusRunning:
		if t.AnalysisID == "" {
			log.Warn("running task has no analysis id, returning it to pending")
			m := MutationFor(t)
			m.Status = domain.TaskStatusPending
			m.Heartbeat = HeartbeatClear
			return m, nil
		}
		return p.poll(ctx, t, log), nil
	default:
		return Mutation{}, fmt.Errorf("%w: %s", ErrNotProcessable, t.Status)
	}
}

func (p *Processor) submit(ctx context.Context, t domain.Task, log *slog.Logger) Mutation {
	rc, err := p.content.Open(ctx, t.ContentRef)
	if err != nil {
		log.Error("failed to open task content", "error", err)
		return failed(t, err.Error())
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			log.Warn("failed to close task content", "error", cerr)
		}
	}()

	analysisID, err := p.client.Upload(ctx, t.OriginalFilename, rc)
	if err != nil {
		if errors.Is(err, analysis.ErrInvalidContent) {
			log.Info("provider rejected content", "error", err)
		} else {
			log.Error("failed to upload content", "error", err)
		}
		return failed(t, err.Error())
	}

	log.Info("content uploaded for analysis", "analysis_id", analysisID)
	m := MutationFor(t)
	m.Status = domain.TaskStatusRunning
	m.AnalysisID = analysisID
	m.Heartbeat = HeartbeatRefresh
	return m
}

func (p *Processor) poll(ctx context.Context, t domain.Task, log *slog.Logger) Mutation {
	log = log.With("analysis_id", t.AnalysisID)

	report, err := p.client.Poll(ctx, t.AnalysisID)
	if err != nil {
		log.Error("failed to poll analysis", "error", err)
		return failed(t, err.Error())
	}

	switch {
	case report.Status.InProgress():
		log.Debug("analysis in progress", "analysis_status", report.Status)
		m := MutationFor(t)
		m.Heartbeat = HeartbeatRefresh
		return m

	case report.Status == analysis.StatusCompleted:
		ref, err := p.artifacts.Save(ctx, t.ID, report.Raw)
		if err != nil {
			log.Error("failed to persist analysis report", "error", err)
			return failed(t, err.Error())
		}
		log.Info("analysis completed", "result_ref", ref)
		m := MutationFor(t)
		m.Status = domain.TaskStatusCompleted
		m.ResultRef = ref
		m.ResultURL = report.URL
		m.Heartbeat = HeartbeatClear
		m.Metric = domain.MetricCompleted
		return m

	case report.Status.Failed():
		log.Info("analysis ended without a verdict", "analysis_status", report.Status)
		return failed(t, fmt.Sprintf("analysis %s", report.Status))

	default:
		log.Warn("unknown analysis status", "analysis_status", report.Status)
		return failed(t, fmt.Sprintf("unknown analysis status: %s", report.Status))
	}
}

func failed(t domain.Task, msg string) Mutation {
	m := MutationFor(t)
	m.Status = domain.TaskStatusFailed
	m.ErrorMessage = msg
	m.Heartbeat = HeartbeatClear
	m.Metric = domain.MetricFailed
	return m
}
