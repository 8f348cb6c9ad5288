package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/events"
)

// fileHashPrefix is how much of the content fingerprint is echoed back.
const fileHashPrefix = 16

// UploadResponse is returned for an accepted document.
type UploadResponse struct {
	TaskID      string `json:"task_id"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
	FileHash    string `json:"file_hash"`
	FileSize    string `json:"file_size"`
	Status      string `json:"status"`
}

// ScanResultResponse pairs a completed task with its provider report.
type ScanResultResponse struct {
	Task        events.TaskSnapshot `json:"task"`
	ScanResults json.RawMessage     `json:"scan_results"`
}

// HealthResponse reports process liveness.
type HealthResponse struct {
	Status             string    `json:"status"`
	Timestamp          time.Time `json:"timestamp"`
	Subscribers        int       `json:"subscribers"`
	AnalysisConfigured bool      `json:"analysis_configured"`
}

func uploadToResponse(t domain.Task, hash string) UploadResponse {
	if len(hash) > fileHashPrefix {
		hash = hash[:fileHashPrefix]
	}
	return UploadResponse{
		TaskID:      t.ID.String(),
		Filename:    t.OriginalFilename,
		Description: t.Description,
		FileHash:    hash,
		FileSize:    domain.FormatSize(t.SizeBytes),
		Status:      string(t.Status),
	}
}

func tasksToSnapshots(tasks []domain.Task) []events.TaskSnapshot {
	snapshots := make([]events.TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		snapshots = append(snapshots, events.NewTaskSnapshot(t))
	}
	return snapshots
}
