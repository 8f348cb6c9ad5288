package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func dialGateway(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(ts.handler)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event events.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestGateway_BaselineThenIncremental(t *testing.T) {
	ts := newTestServer(t)

	existing := domain.Task{ID: uuid.New(), OriginalFilename: "old.pdf", Status: domain.TaskStatusCompleted}
	ts.tasks.On("ListRecent", mock.Anything, RecentTasksLimit).Return([]domain.Task{existing}, nil)
	ts.tasks.On("Metrics", mock.Anything).Return(map[string]int64{"submitted": 1, "completed": 1}, nil)

	conn := dialGateway(t, ts)

	first := readEvent(t, conn)
	assert.Equal(t, events.EventInitialTasks, first.Type)
	require.Len(t, first.Tasks, 1)
	assert.Equal(t, existing.ID, first.Tasks[0].ID)

	second := readEvent(t, conn)
	assert.Equal(t, events.EventInitialMetrics, second.Type)
	assert.Equal(t, int64(1), second.Metrics["completed"])

	assert.Equal(t, 1, ts.bus.Count())

	created := domain.Task{ID: uuid.New(), OriginalFilename: "new.pdf", Status: domain.TaskStatusPending}
	require.NoError(t, ts.bus.Publish(context.Background(), events.TaskCreated(created)))

	third := readEvent(t, conn)
	assert.Equal(t, events.EventTaskCreated, third.Type)
	require.NotNil(t, third.Task)
	assert.Equal(t, created.ID, third.Task.ID)
}

func TestGateway_ClosesWhenBusDisconnects(t *testing.T) {
	ts := newTestServer(t)
	ts.tasks.On("ListRecent", mock.Anything, mock.Anything).Return([]domain.Task{}, nil)
	ts.tasks.On("Metrics", mock.Anything).Return(map[string]int64{}, nil)

	conn := dialGateway(t, ts)
	readEvent(t, conn)
	readEvent(t, conn)

	ts.bus.DisconnectAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
}

func TestGateway_ReleasesSubscriptionOnClientClose(t *testing.T) {
	ts := newTestServer(t)
	ts.tasks.On("ListRecent", mock.Anything, mock.Anything).Return([]domain.Task{}, nil)
	ts.tasks.On("Metrics", mock.Anything).Return(map[string]int64{}, nil)

	conn := dialGateway(t, ts)
	readEvent(t, conn)
	readEvent(t, conn)
	require.Equal(t, 1, ts.bus.Count())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return ts.bus.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_BaselineFailureClosesConnection(t *testing.T) {
	ts := newTestServer(t)
	ts.tasks.On("ListRecent", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	conn := dialGateway(t, ts)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
}

func TestGateway_RejectsPlainHTTP(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
