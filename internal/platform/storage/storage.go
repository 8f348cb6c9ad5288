package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	// ErrNotFound is returned when a reference has no stored file.
	ErrNotFound = errors.New("stored file not found")

	// ErrInvalidRef is returned for references outside the store's directory.
	ErrInvalidRef = errors.New("invalid storage reference")

	// ErrExists is returned when saving over an existing file.
	ErrExists = errors.New("stored file already exists")
)

type baseDir struct {
	fs  afero.Fs
	dir string
}

func newBaseDir(fs afero.Fs, dir string) (baseDir, error) {
	dir = filepath.Clean(dir)
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return baseDir{}, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return baseDir{fs: fs, dir: dir}, nil
}

// resolve checks that ref names a file directly inside the directory.
func (b baseDir) resolve(ref string) (string, error) {
	clean := filepath.Clean(ref)
	if filepath.Dir(clean) != b.dir || strings.HasPrefix(filepath.Base(clean), ".") {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	return clean, nil
}

func mapFSError(err error, ref string) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return err
}

// ContentStore holds uploaded documents.
type ContentStore struct {
	baseDir
}

// NewContentStore creates the upload directory if needed.
func NewContentStore(fs afero.Fs, dir string) (*ContentStore, error) {
	b, err := newBaseDir(fs, dir)
	if err != nil {
		return nil, err
	}
	return &ContentStore{baseDir: b}, nil
}

// Save writes content under name and returns its reference. Existing
// files are never overwritten.
func (s *ContentStore) Save(_ context.Context, name string, content io.Reader) (string, error) {
	path, err := s.resolve(filepath.Join(s.dir, name))
	if err != nil {
		return "", err
	}

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, name)
		}
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(path)
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	return path, nil
}

// Open returns a reader for a stored document.
func (s *ContentStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, mapFSError(err, ref)
	}
	return f, nil
}

// Delete removes a stored document. Missing files are not an error.
func (s *ContentStore) Delete(_ context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// ArtifactStore holds provider reports as <task_id>.json.
type ArtifactStore struct {
	baseDir
}

// NewArtifactStore creates the report directory if needed.
func NewArtifactStore(fs afero.Fs, dir string) (*ArtifactStore, error) {
	b, err := newBaseDir(fs, dir)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{baseDir: b}, nil
}

// Ref returns the reference a report for taskID is stored under.
func (s *ArtifactStore) Ref(taskID uuid.UUID) string {
	return filepath.Join(s.dir, taskID.String()+".json")
}

// Save writes raw verbatim and returns its reference. A report saved
// again for the same task replaces the previous one.
func (s *ArtifactStore) Save(_ context.Context, taskID uuid.UUID, raw []byte) (string, error) {
	path := s.Ref(taskID)
	tmp := path + ".tmp"

	if err := afero.WriteFile(s.fs, tmp, raw, 0o640); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("failed to store report %s: %w", path, err)
	}
	return path, nil
}

// Read returns a stored report.
func (s *ArtifactStore) Read(_ context.Context, ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, mapFSError(err, ref)
	}
	return data, nil
}
