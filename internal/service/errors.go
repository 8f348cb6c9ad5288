package service

import (
	"errors"
	"fmt"
)

// Common service errors. Callers check for these with errors.Is; the API
// layer maps them to HTTP status codes.
var (
	// ErrTaskNotFound indicates that the task does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrScanNotCompleted indicates that results were requested for a task
	// that has not reached COMPLETED.
	// API layer should map this to HTTP 400 Bad Request.
	ErrScanNotCompleted = errors.New("scan not completed yet")

	// ErrReportNotFound indicates that a completed task's report is missing.
	// API layer should map this to HTTP 404 Not Found.
	ErrReportNotFound = errors.New("scan report not found")
)

// ServiceError wraps unexpected failures with the operation that failed.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "scan_result")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError, or nil when err is nil.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Operation: operation, Message: message, Err: err}
}
