package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
)

// Status is the provider-reported state of an analysis.
// Values outside the known set are passed through unchanged.
type Status string

// Provider statuses.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
	StatusFailure   Status = "failure"
)

// InProgress reports whether the provider is still working.
func (s Status) InProgress() bool {
	return s == StatusQueued || s == StatusRunning
}

// Failed reports whether the provider gave up on the analysis.
func (s Status) Failed() bool {
	return s == StatusCancelled || s == StatusTimeout || s == StatusFailure
}

// Report is the result of polling an analysis.
type Report struct {
	Status Status
	// Raw is the provider's response body, kept verbatim.
	Raw json.RawMessage
	// URL is a human-viewable page for the analysis.
	URL string
}

var (
	// ErrTransient marks failures that may succeed on a later attempt.
	ErrTransient = errors.New("transient analysis error")

	// ErrTerminal marks failures that will not succeed on retry.
	ErrTerminal = errors.New("terminal analysis error")

	// ErrInvalidContent is returned when the provider rejects the document.
	ErrInvalidContent = &terminalError{msg: "analysis provider rejected content"}
)

type terminalError struct{ msg string }

func (e *terminalError) Error() string { return e.msg }
func (e *terminalError) Unwrap() error { return ErrTerminal }

// Client talks to an analysis provider.
type Client interface {
	// Upload submits a document and returns the provider's analysis id.
	Upload(ctx context.Context, filename string, content io.Reader) (string, error)

	// Poll fetches the current state of an analysis.
	Poll(ctx context.Context, analysisID string) (Report, error)
}
