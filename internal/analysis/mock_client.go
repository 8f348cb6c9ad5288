package analysis

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock implementing Client.
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

// Upload records the call and returns the configured values.
func (m *MockClient) Upload(ctx context.Context, filename string, content io.Reader) (string, error) {
	args := m.Called(ctx, filename, content)
	return args.String(0), args.Error(1)
}

// Poll records the call and returns the configured values.
func (m *MockClient) Poll(ctx context.Context, analysisID string) (Report, error) {
	args := m.Called(ctx, analysisID)
	report, _ := args.Get(0).(Report)
	return report, args.Error(1)
}
