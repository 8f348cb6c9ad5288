package service_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/platform/logger"
	"github.com/stretchr/testify/mock"
)

type MockTaskStore struct {
	mock.Mock
}

func (m *MockTaskStore) Submit(ctx context.Context, sub domain.Submission) (domain.Task, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(domain.Task), args.Error(1)
}

func (m *MockTaskStore) Get(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Task), args.Error(1)
}

func (m *MockTaskStore) ListRecent(ctx context.Context, limit int) ([]domain.Task, error) {
	args := m.Called(ctx, limit)
	tasks, _ := args.Get(0).([]domain.Task)
	return tasks, args.Error(1)
}

func (m *MockTaskStore) Metrics(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	metrics, _ := args.Get(0).(map[string]int64)
	return metrics, args.Error(1)
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	log, _ := logger.NewTestLogger(t)
	return log
}
