package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/phrazzld/pdfscan/internal/domain"
	"github.com/phrazzld/pdfscan/internal/platform/logger"
	"github.com/phrazzld/pdfscan/internal/store"
	"github.com/phrazzld/pdfscan/internal/upload"
)

// TaskSubmitter persists new tasks with content-hash deduplication.
type TaskSubmitter interface {
	Submit(ctx context.Context, sub domain.Submission) (domain.Task, error)
}

// ContentWriter stores and removes uploaded documents.
type ContentWriter interface {
	Save(ctx context.Context, name string, content io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Submission is the outcome of an accepted upload.
type Submission struct {
	Task domain.Task
	Hash string
}

// SubmissionService accepts documents for scanning.
type SubmissionService interface {
	// Submit validates and stores the document, then queues a PENDING task.
	// Duplicate content yields *store.DuplicateError; invalid content
	// yields upload.ErrNoFile, upload.ErrNotPDF, upload.ErrTooLarge or a
	// domain.ErrValidation wrap. Rejected documents are never queued.
	Submit(ctx context.Context, req upload.Request, content io.Reader) (*Submission, error)
}

type submissionServiceImpl struct {
	tasks     TaskSubmitter
	content   ContentWriter
	validator *upload.Validator
	logger    *slog.Logger
}

// NewSubmissionService creates a SubmissionService.
// It returns an error if any of the required dependencies are nil.
func NewSubmissionService(
	tasks TaskSubmitter,
	content ContentWriter,
	validator *upload.Validator,
	logger *slog.Logger,
) (SubmissionService, error) {
	if tasks == nil {
		return nil, NewServiceError("create_service", "tasks cannot be nil", store.ErrInvalidEntity)
	}
	if content == nil {
		return nil, NewServiceError("create_service", "content cannot be nil", store.ErrInvalidEntity)
	}
	if validator == nil {
		return nil, NewServiceError("create_service", "validator cannot be nil", store.ErrInvalidEntity)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &submissionServiceImpl{
		tasks:     tasks,
		content:   content,
		validator: validator,
		logger:    logger.With("component", "submission_service"),
	}, nil
}

func (s *submissionServiceImpl) Submit(
	ctx context.Context,
	req upload.Request,
	content io.Reader,
) (*Submission, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	doc, err := s.validator.Read(req, content)
	if err != nil {
		log.Info("upload rejected", "filename", req.Filename, "error", err)
		return nil, err
	}

	ref, err := s.content.Save(ctx, doc.StoredName, bytes.NewReader(doc.Content))
	if err != nil {
		log.Error("failed to store upload", "filename", doc.StoredName, "error", err)
		return nil, NewServiceError("submit", "failed to store upload", err)
	}

	created, err := s.tasks.Submit(ctx, domain.Submission{
		Description:      doc.Description,
		OriginalFilename: doc.OriginalFilename,
		ContentRef:       ref,
		ContentHash:      doc.Hash,
		SizeBytes:        doc.Size,
	})
	if err != nil {
		if delErr := s.content.Delete(ctx, ref); delErr != nil {
			log.Warn("failed to remove rejected upload", "content_ref", ref, "error", delErr)
		}

		var dup *store.DuplicateError
		if errors.As(err, &dup) {
			log.Info("duplicate upload", "existing_task_id", dup.ExistingID, "content_hash", doc.Hash)
			return nil, dup
		}
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		log.Error("failed to submit task", "error", err)
		return nil, NewServiceError("submit", "failed to queue task", err)
	}

	log.Info("upload accepted", "task_id", created.ID, "size", domain.FormatSize(doc.Size))
	return &Submission{Task: created, Hash: doc.Hash}, nil
}
