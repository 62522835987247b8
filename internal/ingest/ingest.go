// Package ingest moves source files into the object store and registers them
// as documents for the next Sync.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/markdown"
	"github.com/bull/ragindex/internal/objectstore"
)

// DefaultMaxUploadBytes caps the size of an uploaded file.
const DefaultMaxUploadBytes int64 = 10 << 20

// Library is the part of the document store ingest writes to.
type Library interface {
	GetCategory(ctx context.Context, tenantID, categoryID string) (*document.Category, error)
	Create(ctx context.Context, n document.NewDocument) (*document.Document, error)
	Get(ctx context.Context, tenantID, documentID string) (*document.Document, error)
	MarkUpdated(ctx context.Context, tenantID, documentID string) error
	MarkDeleted(ctx context.Context, tenantID, documentID string) error
}

// Upload is a file to register as a new document.
type Upload struct {
	TenantID   string
	CategoryID string
	Filename   string
	// Name is the display name. Empty derives it from the file.
	Name    string
	Content io.Reader
}

// Service registers, replaces and removes documents.
type Service struct {
	library  Library
	objects  objectstore.Store
	parser   *markdown.Parser
	maxBytes int64
	logger   *slog.Logger
}

// NewService creates an ingest service. A maxBytes of 0 uses DefaultMaxUploadBytes.
func NewService(library Library, objects objectstore.Store, maxBytes int64, logger *slog.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		library:  library,
		objects:  objects,
		parser:   markdown.NewParser(),
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Upload stores the file under its tenant, collection and category and creates
// the document in PENDING.
func (s *Service) Upload(ctx context.Context, u Upload) (*document.Document, error) {
	if u.TenantID == "" || u.CategoryID == "" {
		return nil, errs.Validationf("tenant id and category id are required")
	}
	if strings.TrimSpace(u.Filename) == "" {
		return nil, errs.Validationf("file name is required")
	}
	cat, err := s.library.GetCategory(ctx, u.TenantID, u.CategoryID)
	if err != nil {
		return nil, err
	}
	data, err := s.read(u.Content)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = s.parser.DisplayName(u.Filename, data, document.MaxNameLength)
	}

	remotePath := objectstore.ObjectPath(u.TenantID, cat.CollectionID, cat.ID, uuid.NewString(), u.Filename)
	if err := s.objects.Put(ctx, remotePath, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("store object: %w", err)
	}

	doc, err := s.library.Create(ctx, document.NewDocument{
		TenantID:   u.TenantID,
		CategoryID: cat.ID,
		Name:       name,
		StorageURI: remotePath,
	})
	if err != nil {
		if derr := s.objects.Delete(context.WithoutCancel(ctx), remotePath); derr != nil {
			s.logger.Warn("Failed to remove orphaned object", "path", remotePath, "error", derr)
		}
		return nil, err
	}
	s.logger.Info("Uploaded document", "tenant", u.TenantID, "document", doc.ID, "collection", doc.CollectionID, "bytes", len(data))
	return doc, nil
}

// Replace overwrites the content of an existing document and flags it for
// re-indexing.
func (s *Service) Replace(ctx context.Context, tenantID, documentID string, content io.Reader) error {
	doc, err := s.library.Get(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if doc.Status == document.StatusDeleted {
		return document.ErrDocumentDeleted
	}
	data, err := s.read(content)
	if err != nil {
		return err
	}
	if err := s.objects.Put(ctx, doc.StorageURI, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store object: %w", err)
	}
	return s.library.MarkUpdated(ctx, tenantID, documentID)
}

// MarkUpdated flags a document whose stored content changed out of band.
func (s *Service) MarkUpdated(ctx context.Context, tenantID, documentID string) error {
	return s.library.MarkUpdated(ctx, tenantID, documentID)
}

// Remove soft-deletes a document. The next Sync drops its chunks and record.
// The stored object is kept so the deletion can be audited.
func (s *Service) Remove(ctx context.Context, tenantID, documentID string) error {
	return s.library.MarkDeleted(ctx, tenantID, documentID)
}

// DownloadURL returns a time-limited URL for the document's stored file.
// A ttl of 0 uses objectstore.DefaultURLExpiry.
func (s *Service) DownloadURL(ctx context.Context, tenantID, documentID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = objectstore.DefaultURLExpiry
	}
	doc, err := s.library.Get(ctx, tenantID, documentID)
	if err != nil {
		return "", err
	}
	return s.objects.GenerateDownloadURL(ctx, doc.StorageURI, ttl)
}

func (s *Service) read(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, errs.Validationf("file content is required")
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, errs.Validationf("upload exceeds %d bytes", s.maxBytes)
	}
	return data, nil
}
