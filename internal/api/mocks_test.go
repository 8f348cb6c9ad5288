package api

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/service"
	"github.com/phrazzld/pdfscan/internal/upload"
	"github.com/stretchr/testify/mock"
)

type MockSubmissionService struct {
	mock.Mock
}

func (m *MockSubmissionService) Submit(
	ctx context.Context,
	req upload.Request,
	content io.Reader,
) (*service.Submission, error) {
	data, _ := io.ReadAll(content)
	args := m.Called(ctx, req, data)
	result, _ := args.Get(0).(*service.Submission)
	return result, args.Error(1)
}

type MockTaskQueries struct {
	mock.Mock
}

func (m *MockTaskQueries) Get(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Task), args.Error(1)
}

func (m *MockTaskQueries) ListRecent(ctx context.Context, limit int) ([]domain.Task, error) {
	args := m.Called(ctx, limit)
	tasks, _ := args.Get(0).([]domain.Task)
	return tasks, args.Error(1)
}

func (m *MockTaskQueries) Metrics(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	metrics, _ := args.Get(0).(map[string]int64)
	return metrics, args.Error(1)
}

func (m *MockTaskQueries) Report(ctx context.Context, id uuid.UUID) (domain.Task, json.RawMessage, error) {
	args := m.Called(ctx, id)
	raw, _ := args.Get(1).(json.RawMessage)
	return args.Get(0).(domain.Task), raw, args.Error(2)
}
