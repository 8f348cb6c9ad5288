package upload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/pdfscan/internal/domain"
)

// DefaultMaxBytes is the largest accepted document.
const DefaultMaxBytes int64 = 50 * 1024 * 1024

const (
	pdfMagic        = "%PDF"
	maxStemLength   = 100
	timestampLayout = "20060102_150405"
	uniqueTagLength = 8
)

var (
	// ErrNoFile is returned when no file or filename was supplied.
	ErrNoFile = errors.New("no file provided")

	// ErrNotPDF is returned when content lacks the PDF signature.
	ErrNotPDF = errors.New("file is not a valid PDF")

	// ErrTooLarge is returned when content exceeds the size limit.
	ErrTooLarge = errors.New("file too large")
)

// Request is the producer-supplied metadata accompanying a document.
type Request struct {
	Filename    string `validate:"required,max=255"`
	Description string `validate:"required,max=500"`
}

// Document is validated upload content ready to be stored.
type Document struct {
	OriginalFilename string
	StoredName       string
	Description      string
	Content          []byte
	Hash             string
	Size             int64
}

// Validator checks upload requests and content.
type Validator struct {
	maxBytes int64
	validate *validator.Validate
	now      func() time.Time
}

// NewValidator creates a Validator accepting documents up to maxBytes.
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{
		maxBytes: maxBytes,
		validate: validator.New(),
		now:      time.Now,
	}
}

// MaxBytes returns the size limit.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Read validates req, reads at most the size limit from content and
// returns the document. Content is checked for the PDF signature before
// its size.
func (v *Validator) Read(req Request, content io.Reader) (*Document, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, ErrNoFile
	}
	if err := v.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	data, err := io.ReadAll(io.LimitReader(content, v.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	if int64(len(data)) > v.maxBytes {
		return nil, fmt.Errorf("%w: maximum is %s", ErrTooLarge, domain.FormatSize(v.maxBytes))
	}

	return &Document{
		OriginalFilename: req.Filename,
		StoredName:       UniqueName(CleanFilename(req.Filename), v.now()),
		Description:      req.Description,
		Content:          data,
		Hash:             Hash(data),
		Size:             int64(len(data)),
	}, nil
}

// IsPDF reports whether content starts with the PDF signature.
func IsPDF(content []byte) bool {
	return bytes.HasPrefix(content, []byte(pdfMagic))
}

// Hash returns the lowercase hex SHA-256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

var unsafeFilenameChars = strings.NewReplacer(
	"/", "_", `\`, "_", "<", "_", ">", "_", ":", "_",
	`"`, "_", "|", "_", "?", "_", "*", "_",
)

// CleanFilename replaces path and shell metacharacters with underscores
// and truncates the name, excluding extension, to 100 characters.
func CleanFilename(name string) string {
	name = unsafeFilenameChars.Replace(name)

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if r := []rune(stem); len(r) > maxStemLength {
		stem = string(r[:maxStemLength])
	}
	return stem + ext
}

// UniqueName prefixes name with a second-resolution timestamp and a random
// tag so uploads of the same name within one second do not collide.
func UniqueName(name string, now time.Time) string {
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:uniqueTagLength]
	return now.Format(timestampLayout) + "_" + tag + "_" + name
}
