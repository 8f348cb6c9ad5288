package virustotal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phrazzld/pdfscan/internal/analysis"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public v3 API root.
	DefaultBaseURL = "https://www.virustotal.com/api/v3"

	// GUIBaseURL is where a human can view an analysis.
	GUIBaseURL = "https://www.virustotal.com/gui/file-analysis/"

	apiKeyHeader = "x-apikey"
)

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string

	// RequestsPerMinute caps outgoing requests. Zero disables limiting.
	RequestsPerMinute int

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// MaxPollRetries is how many times a failed poll is retried.
	MaxPollRetries uint64

	// RetryBaseDelay is the first retry delay; later ones double.
	RetryBaseDelay time.Duration
}

// Client is a VirusTotal v3 API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	maxRetries uint64
	retryBase  time.Duration
	logger     *slog.Logger
}

var _ analysis.Client = (*Client)(nil)

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: cfg.MaxPollRetries,
		retryBase:  cfg.RetryBaseDelay,
		logger:     logger.With("component", "virustotal"),
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("virustotal: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("virustotal: unexpected status %d", e.StatusCode)
}

// Unwrap classifies the error as transient or terminal.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return analysis.ErrTransient
	case e.StatusCode == http.StatusBadRequest,
		e.StatusCode == http.StatusRequestEntityTooLarge,
		e.StatusCode == http.StatusUnsupportedMediaType,
		e.StatusCode == http.StatusUnprocessableEntity:
		return analysis.ErrInvalidContent
	default:
		return analysis.ErrTerminal
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type uploadResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type analysisResponse struct {
	Data struct {
		Attributes struct {
			Status string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

// Upload submits a document with POST /files and returns the analysis id.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	data, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}

	var resp uploadResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("upload %s: malformed response: %w", filename, analysis.ErrTerminal)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("upload %s: response has no analysis id: %w", filename, analysis.ErrTerminal)
	}

	c.logger.Debug("file uploaded", "filename", filename, "analysis_id", resp.Data.ID)
	return resp.Data.ID, nil
}

// Poll fetches GET /analyses/{id}. The response body is returned verbatim
// in Report.Raw.
func (c *Client) Poll(ctx context.Context, analysisID string) (analysis.Report, error) {
	endpoint := c.baseURL + "/analyses/" + url.PathEscape(analysisID)

	var data []byte
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		data, err = c.do(req)
		if errors.Is(err, analysis.ErrTransient) {
			c.logger.Warn("retrying analysis poll", "analysis_id", analysisID, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return analysis.Report{}, fmt.Errorf("poll %s: %w", analysisID, err)
	}

	var resp analysisResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return analysis.Report{}, fmt.Errorf("poll %s: malformed response: %w", analysisID, analysis.ErrTerminal)
	}

	return analysis.Report{
		Status: analysis.Status(resp.Data.Attributes.Status),
		Raw:    json.RawMessage(data),
		URL:    GUIBaseURL + analysisID,
	}, nil
}

// do waits for the rate limiter, sends req and returns the body of a 2xx
// response. Network failures are transient.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", analysis.ErrTransient, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("failed to close response body", "error", cerr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", analysis.ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body errorBody
		if json.Unmarshal(data, &body) == nil {
			apiErr.Code = body.Error.Code
			apiErr.Message = body.Error.Message
		}
		return nil, apiErr
	}

	return data, nil
}
