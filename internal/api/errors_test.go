package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/api/shared"
	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/service"
	"github.com/phrazzld/pdfscan/internal/store"
	"github.com/phrazzld/pdfscan/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"too large", fmt.Errorf("%w: maximum is 50.0 MB", upload.ErrTooLarge), http.StatusRequestEntityTooLarge},
		{"body limit", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{"duplicate", &store.DuplicateError{ExistingID: uuid.New()}, http.StatusConflict},
		{"task not found", service.ErrTaskNotFound, http.StatusNotFound},
		{"store not found", store.ErrTaskNotFound, http.StatusNotFound},
		{"report not found", service.ErrReportNotFound, http.StatusNotFound},
		{"no file", upload.ErrNoFile, http.StatusBadRequest},
		{"not pdf", upload.ErrNotPDF, http.StatusBadRequest},
		{"not completed", service.ErrScanNotCompleted, http.StatusBadRequest},
		{"validation", fmt.Errorf("%w: description", domain.ErrValidation), http.StatusBadRequest},
		{"invalid id", domain.ErrInvalidID, http.StatusBadRequest},
		{"unknown", errors.New("db exploded"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "File is not a valid PDF", GetSafeErrorMessage(upload.ErrNotPDF))
	assert.Equal(t, "File too large: maximum is 50.0 MB",
		GetSafeErrorMessage(fmt.Errorf("%w: maximum is 50.0 MB", upload.ErrTooLarge)))
	assert.Equal(t, "An unexpected error occurred",
		GetSafeErrorMessage(errors.New("dial tcp postgres://user:secret@db:5432")))

	validationErr := fmt.Errorf("%w: Key: 'Request.Description' Error:Field validation for 'Description' failed on the 'required' tag",
		domain.ErrValidation)
	assert.Equal(t, "Invalid description: required field", GetSafeErrorMessage(validationErr))
}

func TestHandleAPIError_DuplicateCarriesExistingID(t *testing.T) {
	existing := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req = req.WithContext(shared.SetTraceID(req.Context()))
	rr := httptest.NewRecorder()

	HandleAPIError(rr, req, &store.DuplicateError{ExistingID: existing}, "")

	assert.Equal(t, http.StatusConflict, rr.Code)
	var body shared.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "File already submitted", body.Error)
	assert.Equal(t, existing.String(), body.ExistingTaskID)
	assert.Len(t, body.TraceID, 32)
}

func TestHandleAPIError_DoesNotLeakInternalDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rr := httptest.NewRecorder()

	HandleAPIError(rr, req, errors.New("SELECT * FROM tasks failed at /var/lib/postgres"), "Failed to list tasks")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "SELECT")
	assert.NotContains(t, rr.Body.String(), "/var/lib")
	assert.Contains(t, rr.Body.String(), "Failed to list tasks")
}
