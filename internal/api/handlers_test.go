package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/api/shared"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/events"
	"github.com/phrazzld/pdfscan/internal/service"
	"github.com/phrazzld/pdfscan/internal/store"
	"github.com/phrazzld/pdfscan/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var samplePDF = []byte("%PDF-1.4\n%%EOF\n")

type testServer struct {
	submissions *MockSubmissionService
	tasks       *MockTaskQueries
	bus         *events.Bus
	handler     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := &testServer{
		submissions: &MockSubmissionService{},
		tasks:       &MockTaskQueries{},
		bus:         events.NewBus(16, log),
	}
	t.Cleanup(ts.bus.Close)

	gateway := NewGateway(ts.bus, ts.tasks, GatewayConfig{}, log)
	taskHandler := NewTaskHandler(TaskHandlerConfig{
		Submissions:        ts.submissions,
		Tasks:              ts.tasks,
		Subscribers:        gateway.Subscribers,
		AnalysisConfigured: true,
		MaxUploadBytes:     1024,
	}, log)
	ts.handler = NewRouter(taskHandler, gateway, log)
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func multipartUpload(t *testing.T, filename string, content []byte, description string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("description", description))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) shared.ErrorResponse {
	t.Helper()
	var body shared.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestUpload(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		ts := newTestServer(t)

		created := domain.Task{
			ID:               uuid.New(),
			Description:      "invoice",
			OriginalFilename: "invoice.pdf",
			SizeBytes:        int64(len(samplePDF)),
			Status:           domain.TaskStatusPending,
		}
		hash := upload.Hash(samplePDF)
		ts.submissions.On("Submit", mock.Anything,
			upload.Request{Filename: "invoice.pdf", Description: "invoice"}, samplePDF).
			Return(&service.Submission{Task: created, Hash: hash}, nil).Once()

		rr := ts.do(t, multipartUpload(t, "invoice.pdf", samplePDF, "invoice"))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var resp UploadResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, created.ID.String(), resp.TaskID)
		assert.Equal(t, "invoice.pdf", resp.Filename)
		assert.Equal(t, "invoice", resp.Description)
		assert.Equal(t, hash[:16], resp.FileHash)
		assert.Equal(t, domain.FormatSize(created.SizeBytes), resp.FileSize)
		assert.Equal(t, "PENDING", resp.Status)
		ts.submissions.AssertExpectations(t)
	})

	t.Run("missing file", func(t *testing.T) {
		ts := newTestServer(t)

		rr := ts.do(t, multipartUpload(t, "", nil, "no file"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "No file provided", decodeError(t, rr).Error)
		ts.submissions.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("body over limit", func(t *testing.T) {
		ts := newTestServer(t)

		big := append([]byte("%PDF"), bytes.Repeat([]byte("x"), 2<<20)...)
		rr := ts.do(t, multipartUpload(t, "big.pdf", big, "big"))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})

	errorCases := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"not a pdf", upload.ErrNotPDF, http.StatusBadRequest, "File is not a valid PDF"},
		{
			"too large",
			fmt.Errorf("%w: maximum is 0.0 MB", upload.ErrTooLarge),
			http.StatusRequestEntityTooLarge,
			"File too large: maximum is 0.0 MB",
		},
		{"store failure", errors.New("boom"), http.StatusInternalServerError, "Failed to submit file"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.submissions.On("Submit", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, tc.err).Once()

			rr := ts.do(t, multipartUpload(t, "a.pdf", samplePDF, "d"))
			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, tc.wantMsg, decodeError(t, rr).Error)
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		ts := newTestServer(t)
		existing := uuid.New()
		ts.submissions.On("Submit", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &store.DuplicateError{ExistingID: existing}).Once()

		rr := ts.do(t, multipartUpload(t, "a.pdf", samplePDF, "d"))
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, existing.String(), decodeError(t, rr).ExistingTaskID)
	})
}

func TestListTasks(t *testing.T) {
	ts := newTestServer(t)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	recent := []domain.Task{
		{ID: uuid.New(), OriginalFilename: "b.pdf", Status: domain.TaskStatusRunning, CreatedAt: now},
		{ID: uuid.New(), OriginalFilename: "a.pdf", Status: domain.TaskStatusPending, CreatedAt: now.Add(-time.Minute)},
	}
	ts.tasks.On("ListRecent", mock.Anything, RecentTasksLimit).Return(recent, nil).Once()

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got []events.TaskSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, recent[0].ID, got[0].ID)
	assert.Equal(t, "b.pdf", got[0].Filename)
	assert.Equal(t, "RUNNING", got[0].Status)
}

func TestGetTask(t *testing.T) {
	ts := newTestServer(t)

	found := domain.Task{ID: uuid.New(), Status: domain.TaskStatusFailed, ErrorMessage: "analysis timeout"}
	missing := uuid.New()
	ts.tasks.On("Get", mock.Anything, found.ID).Return(found, nil)
	ts.tasks.On("Get", mock.Anything, missing).Return(domain.Task{}, service.ErrTaskNotFound)

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/tasks/"+found.ID.String(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var snapshot events.TaskSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snapshot))
	require.NotNil(t, snapshot.ErrorMessage)
	assert.Equal(t, "analysis timeout", *snapshot.ErrorMessage)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/tasks/"+missing.String(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/tasks/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid task ID", decodeError(t, rr).Error)
}

func TestGetScanResults(t *testing.T) {
	ts := newTestServer(t)

	completed := domain.Task{ID: uuid.New(), Status: domain.TaskStatusCompleted}
	running := uuid.New()
	raw := json.RawMessage(`{"data":{"attributes":{"status":"completed"}}}`)
	ts.tasks.On("Report", mock.Anything, completed.ID).Return(completed, raw, nil)
	ts.tasks.On("Report", mock.Anything, running).
		Return(domain.Task{ID: running, Status: domain.TaskStatusRunning}, nil, service.ErrScanNotCompleted)

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/scan-results/"+completed.ID.String(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp ScanResultResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, completed.ID, resp.Task.ID)
	assert.JSONEq(t, string(raw), string(resp.ScanResults))

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/scan-results/"+running.String(), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Scan not completed yet", decodeError(t, rr).Error)
}

func TestGetReport(t *testing.T) {
	ts := newTestServer(t)

	completed := domain.Task{ID: uuid.New(), Status: domain.TaskStatusCompleted}
	pending := uuid.New()
	raw := json.RawMessage(`{"data":{"id":"abc"}}`)
	ts.tasks.On("Report", mock.Anything, completed.ID).Return(completed, raw, nil)
	ts.tasks.On("Report", mock.Anything, pending).
		Return(domain.Task{ID: pending}, nil, service.ErrScanNotCompleted)

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/reports/"+completed.ID.String()+".json", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, string(raw), rr.Body.String())

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/reports/"+pending.String()+".json", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/reports/"+completed.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.tasks.On("Metrics", mock.Anything).
		Return(map[string]int64{"submitted": 3, "completed": 1, "failed": 0}, nil)

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]int64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, int64(3), got["submitted"])
	assert.Equal(t, int64(1), got["completed"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, 0, got.Subscribers)
	assert.True(t, got.AnalysisConfigured)
}
