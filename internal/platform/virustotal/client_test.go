package virustotal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/pdfscan/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		Timeout:        5 * time.Second,
		MaxPollRetries: 2,
		RetryBaseDelay: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUpload(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-apikey"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		assert.Equal(t, "report.pdf", header.Filename)
		content, _ := io.ReadAll(file)
		assert.Equal(t, "%PDF-1.7", string(content))

		_, _ = w.Write([]byte(`{"data":{"type":"analysis","id":"NjY0MjRlOTFj"}}`))
	}))

	id, err := client.Upload(context.Background(), "report.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "NjY0MjRlOTFj", id)
}

func TestUploadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"bad request is invalid content", http.StatusBadRequest, `{"error":{"code":"BadRequestError","message":"bad file"}}`, analysis.ErrInvalidContent},
		{"unauthorized is terminal", http.StatusUnauthorized, `{"error":{"code":"WrongCredentialsError","message":"no"}}`, analysis.ErrTerminal},
		{"throttled is transient", http.StatusTooManyRequests, `{"error":{"code":"QuotaExceededError","message":"slow down"}}`, analysis.ErrTransient},
		{"server error is transient", http.StatusBadGateway, `oops`, analysis.ErrTransient},
		{"missing id is terminal", http.StatusOK, `{"data":{}}`, analysis.ErrTerminal},
		{"malformed body is terminal", http.StatusOK, `not json`, analysis.ErrTerminal},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls int32
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := client.Upload(context.Background(), "a.pdf", strings.NewReader("%PDF"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "uploads are never retried")
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	err := &APIError{StatusCode: 400, Code: "BadRequestError", Message: "bad file"}
	assert.Equal(t, "virustotal: 400 BadRequestError: bad file", err.Error())
	assert.Equal(t, "virustotal: unexpected status 502", (&APIError{StatusCode: 502}).Error())
}

func TestPoll(t *testing.T) {
	t.Parallel()

	body := `{"data":{"id":"an-1","attributes":{"status":"completed","stats":{"malicious":0}}}}`
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/analyses/an-1", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-apikey"))
		_, _ = w.Write([]byte(body))
	}))

	report, err := client.Poll(context.Background(), "an-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusCompleted, report.Status)
	assert.JSONEq(t, body, string(report.Raw))
	assert.Equal(t, "https://www.virustotal.com/gui/file-analysis/an-1", report.URL)
}

func TestPollPassesUnknownStatusThrough(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"attributes": map[string]any{"status": "exploded"}},
		})
	}))

	report, err := client.Poll(context.Background(), "an-2")
	require.NoError(t, err)
	assert.Equal(t, analysis.Status("exploded"), report.Status)
}

func TestPollRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"attributes":{"status":"queued"}}}`))
	}))

	report, err := client.Poll(context.Background(), "an-3")
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusQueued, report.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPollGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.Poll(context.Background(), "an-4")
	require.Error(t, err)
	assert.ErrorIs(t, err, analysis.ErrTransient)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPollDoesNotRetryTerminalFailures(t *testing.T) {
	t.Parallel()

	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NotFoundError","message":"unknown analysis"}}`))
	}))

	_, err := client.Poll(context.Background(), "missing")
	assert.ErrorIs(t, err, analysis.ErrTerminal)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNetworkFailureIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client := New(Config{BaseURL: baseURL, RetryBaseDelay: time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := client.Upload(context.Background(), "a.pdf", strings.NewReader("%PDF"))
	assert.ErrorIs(t, err, analysis.ErrTransient)
}

func TestRateLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	client := New(Config{BaseURL: "http://127.0.0.1:1", RequestsPerMinute: 1},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Consume the single burst token.
	require.True(t, client.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Upload(ctx, "a.pdf", strings.NewReader("%PDF"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, analysis.ErrTransient)
}
