package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/pdfscan/internal/api/shared"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/service"
	"github.com/phrazzld/pdfscan/internal/store"
	"github.com/phrazzld/pdfscan/internal/upload"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing their types to clients.
func MapErrorToStatusCode(err error) int {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.Is(err, upload.ErrTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrReportNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, upload.ErrNoFile),
		errors.Is(err, upload.ErrNotPDF),
		errors.Is(err, service.ErrScanNotCompleted),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.Is(err, upload.ErrTooLarge):
		// The wrapped message names the configured limit only.
		return capitalize(err.Error())
	case errors.As(err, &maxBytesErr):
		return "File too large"
	case errors.Is(err, store.ErrDuplicate):
		return "File already submitted"
	case errors.Is(err, service.ErrTaskNotFound), errors.Is(err, store.ErrNotFound):
		return "Task not found"
	case errors.Is(err, service.ErrReportNotFound):
		return "Scan report not found"
	case errors.Is(err, service.ErrScanNotCompleted):
		return "Scan not completed yet"
	case errors.Is(err, upload.ErrNoFile):
		return "No file provided"
	case errors.Is(err, upload.ErrNotPDF):
		return "File is not a valid PDF"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid task ID"
	case errors.Is(err, domain.ErrValidation):
		return SanitizeValidationError(err)
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns a validator field error into a short
// message naming the field and the failed rule.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Example format: "Key: 'Request.Description' Error:Field validation for 'Description' failed on the 'required' tag"
	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := strings.ToLower(fieldParts[1])
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "max":
		return "too long"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err. defaultMsg
// replaces the generic message for unexpected errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)

	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		message = defaultMsg
	}

	var opts []shared.ResponseOption
	var dup *store.DuplicateError
	if errors.As(err, &dup) {
		opts = append(opts, shared.WithExistingTaskID(dup.ExistingID.String()))
	}

	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
