package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/analysis"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeContent struct {
	err error
}

func (f *fakeContent) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader("%PDF-1.4 " + ref)), nil
}

type fakeArtifacts struct {
	err   error
	saved map[uuid.UUID][]byte
}

func (f *fakeArtifacts) Save(_ context.Context, taskID uuid.UUID, raw []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.saved == nil {
		f.saved = make(map[uuid.UUID][]byte)
	}
	f.saved[taskID] = raw
	return "/reports/" + taskID.String() + ".json", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTask(status domain.TaskStatus, analysisID string) domain.Task {
	now := time.Now().UTC()
	t := domain.Task{
		ID:               uuid.New(),
		Description:      "invoice",
		OriginalFilename: "invoice.pdf",
		ContentRef:       "/data/uploads/invoice.pdf",
		ContentHash:      "deadbeef",
		SizeBytes:        2048,
		Status:           status,
		AnalysisID:       analysisID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if status == domain.TaskStatusRunning {
		t.HeartbeatAt = &now
	}
	return t
}

// TestProcessorTransitions covers every row of the scan state machine.
func TestProcessorTransitions(t *testing.T) {
	t.Parallel()

	rawReport := []byte(`{"data":{"attributes":{"status":"completed"}}}`)

	tests := []struct {
		name       string
		task       domain.Task
		setup      func(c *analysis.MockClient)
		contentErr error
		saveErr    error
		want       Mutation
	}{
		{
			name: "pending upload succeeds",
			task: newTask(domain.TaskStatusPending, ""),
			setup: func(c *analysis.MockClient) {
				c.On("Upload", mock.Anything, "invoice.pdf", mock.Anything).Return("an-1", nil)
			},
			want: Mutation{Status: domain.TaskStatusRunning, AnalysisID: "an-1", Heartbeat: HeartbeatRefresh},
		},
		{
			name: "pending upload rejected as invalid content",
			task: newTask(domain.TaskStatusPending, ""),
			setup: func(c *analysis.MockClient) {
				c.On("Upload", mock.Anything, "invoice.pdf", mock.Anything).
					Return("", fmt.Errorf("upload rejected: %w", analysis.ErrInvalidContent))
			},
			want: Mutation{
				Status:       domain.TaskStatusFailed,
				ErrorMessage: "upload rejected: analysis provider rejected content",
				Heartbeat:    HeartbeatClear,
				Metric:       domain.MetricFailed,
			},
		},
		{
			name: "pending upload transient error",
			task: newTask(domain.TaskStatusPending, ""),
			setup: func(c *analysis.MockClient) {
				c.On("Upload", mock.Anything, "invoice.pdf", mock.Anything).
					Return("", fmt.Errorf("provider unreachable: %w", analysis.ErrTransient))
			},
			want: Mutation{
				Status:       domain.TaskStatusFailed,
				ErrorMessage: "provider unreachable: transient analysis error",
				Heartbeat:    HeartbeatClear,
				Metric:       domain.MetricFailed,
			},
		},
		{
			name:       "pending content unreadable",
			task:       newTask(domain.TaskStatusPending, ""),
			setup:      func(c *analysis.MockClient) {},
			contentErr: errors.New("file not found"),
			want: Mutation{
				Status:       domain.TaskStatusFailed,
				ErrorMessage: "file not found",
				Heartbeat:    HeartbeatClear,
				Metric:       domain.MetricFailed,
			},
		},
		{
			name: "running queued refreshes heartbeat",
			task: newTask(domain.TaskStatusRunning, "an-2"),
			setup: func(c *analysis.MockClient) {
				c.On("Poll", mock.Anything, "an-2").Return(analysis.Report{Status: analysis.StatusQueued}, nil)
			},
			want: Mutation{Status: domain.TaskStatusRunning, AnalysisID: "an-2", Heartbeat: HeartbeatRefresh},
		},
		{
			name: "running in progress refreshes heartbeat",
			task: newTask(domain.TaskStatusRunning, "an-3"),
			setup: func(c *analysis.MockClient) {
				c.On("Poll", mock.Anything, "an-3").Return(analysis.Report{Status: analysis.StatusRunning}, nil)
			},
			want: Mutation{Status: domain.TaskStatusRunning, AnalysisID: "an-3", Heartbeat: HeartbeatRefresh},
		},
		{
			name: "running completed persists report",
			task: newTask(domain.TaskStatusRunning, "an-4"),
			setup: func(c *analysis.MockClient) {
				c.On("Poll", mock.Anything, "an-4").Return(analysis.Report{
					Status: analysis.StatusCompleted,
					Raw:    rawReport,
					URL:    "https://example.test/an-4",
				}, nil)
			},
			want: Mutation{
				Status:     domain.TaskStatusCompleted,
				AnalysisID: "an-4",
				ResultURL:  "https://example.test/an-4",
				Heartbeat:  HeartbeatClear,
				Metric:     domain.MetricCompleted,
			},
		},
		{
			name: "running completed but report cannot be saved",
			task: newTask(domain.TaskStatusRunning, "an-5"),
			setup: func(c *analysis.MockClient) {
				c.On("Poll", mock.Anything, "an-5").Return(analysis.Report{Status: analysis.StatusCompleted, Raw: rawReport}, nil)
			},
			saveErr: errors.New("disk full"),
			want: Mutation{
				Status:       domain.TaskStatusFailed,
				AnalysisID:   "an-5",
				ErrorMessage: "disk full",
				Heartbeat:    HeartbeatClear,
				Metric:       domain.MetricFailed,
			},
		},
		{
			name: "running cancelled",
			task: newTask(domain.TaskStatusRunning, "an-6"),
			setup: func(c *analysis.MockClient) {
				c.On("Poll", mock.Anything, "an-6").Return(analysis.Report{Status: analysis.StatusCancelled}, nil)
			},
			want: Mutation{
				Status:       domain.TaskStatusFailed,
				AnalysisID:   "an-6",
				ErrorMessage: "analysis cancelled",
				Heartbeat:    HeartbeatClear,
				Metric:       domain.MetricFailed,
			},
		},
		{
			name: "running timeout",
			task: newTask(domain.TaskStatusRunning, "an-7"),
			setup: func(c *analysis.MockClient) {
				c.On("Poll", mock.Anything, "an-7").Return(analysis.Report{Status: analysis.StatusTimeout}, nil)
			},
			want: Mutation{
				Status:       domain.TaskStatusFailed,
				AnalysisID:   "an-7",
				ErrorMessage: "analysis timeout",
				Heartbeat:    HeartbeatClear,
				Metric:       domain.MetricFailed,
			},
		},
		{
			name: "running failure",
			task: newTask(domain.TaskStatusRunning, "an-8"),
			setup: func(c *analysis.MockClient) {
				c.On("Poll", mock.Anything, "an-8").Return(analysis.Report{Status: analysis.StatusFailure}, nil)
			},
			want: Mutation{
				Status:       domain.TaskStatusFailed,
				AnalysisID:   "an-8",
				ErrorMessage: "analysis failure",
				Heartbeat:    HeartbeatClear,
				Metric:       domain.MetricFailed,
			},
		},
		{
			name: "running unrecognized status",
			task: newTask(domain.TaskStatusRunning, "an-9"),
			setup: func(c *analysis.MockClient) {
				c.On("Poll", mock.Anything, "an-9").Return(analysis.Report{Status: "exploded"}, nil)
			},
			want: Mutation{
				Status:       domain.TaskStatusFailed,
				AnalysisID:   "an-9",
				ErrorMessage: "unknown analysis status: exploded",
				Heartbeat:    HeartbeatClear,
				Metric:       domain.MetricFailed,
			},
		},
		{
			name: "running poll error",
			task: newTask(domain.TaskStatusRunning, "an-10"),
			setup: func(c *analysis.MockClient) {
				c.On("Poll", mock.Anything, "an-10").Return(analysis.Report{}, errors.New("connection refused"))
			},
			want: Mutation{
				Status:       domain.TaskStatusFailed,
				AnalysisID:   "an-10",
				ErrorMessage: "connection refused",
				Heartbeat:    HeartbeatClear,
				Metric:       domain.MetricFailed,
			},
		},
		{
			name:  "running without analysis id resets quietly",
			task:  newTask(domain.TaskStatusRunning, ""),
			setup: func(c *analysis.MockClient) {},
			want:  Mutation{Status: domain.TaskStatusPending, Heartbeat: HeartbeatClear},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := new(analysis.MockClient)
			tt.setup(client)
			artifacts := &fakeArtifacts{err: tt.saveErr}
			p := NewProcessor(client, &fakeContent{err: tt.contentErr}, artifacts, discardLogger())

			got, err := p.Process(context.Background(), tt.task)
			require.NoError(t, err)

			if tt.want.Status == domain.TaskStatusCompleted {
				assert.Equal(t, "/reports/"+tt.task.ID.String()+".json", got.ResultRef)
				assert.Equal(t, rawReport, artifacts.saved[tt.task.ID])
				got.ResultRef = ""
			}
			assert.Equal(t, tt.want, got)
			client.AssertExpectations(t)
		})
	}
}

func TestProcessorSelfHealMakesNoProviderCall(t *testing.T) {
	t.Parallel()

	client := new(analysis.MockClient)
	p := NewProcessor(client, &fakeContent{}, &fakeArtifacts{}, discardLogger())

	m, err := p.Process(context.Background(), newTask(domain.TaskStatusRunning, ""))
	require.NoError(t, err)

	assert.Empty(t, m.Metric)
	assert.Empty(t, m.ErrorMessage)
	client.AssertNotCalled(t, "Poll", mock.Anything, mock.Anything)
	client.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessorRejectsTerminalTasks(t *testing.T) {
	t.Parallel()

	p := NewProcessor(new(analysis.MockClient), &fakeContent{}, &fakeArtifacts{}, discardLogger())

	for _, status := range []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusFailed} {
		_, err := p.Process(context.Background(), newTask(status, "an"))
		assert.ErrorIs(t, err, ErrNotProcessable)
	}
}
