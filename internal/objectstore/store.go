// Package objectstore stores uploaded source files and issues time-limited download URLs.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bull/ragindex/internal/errs"
)

var (
	ErrObjectNotFound = fmt.Errorf("object %w", errs.ErrNotFound)
	ErrInvalidPath    = fmt.Errorf("%w: invalid object path", errs.ErrValidation)
)

// DefaultURLExpiry is the lifetime of generated download URLs.
const DefaultURLExpiry = 60 * time.Minute

// Store is a blob store addressed by slash-separated paths.
type Store interface {
	Put(ctx context.Context, remotePath string, r io.Reader) error
	Get(ctx context.Context, remotePath string) (io.ReadCloser, error)
	Delete(ctx context.Context, remotePath string) error
	List(ctx context.Context, prefix string) ([]string, error)
	GenerateDownloadURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error)
}

// Upload copies a local file to remotePath.
func Upload(ctx context.Context, s Store, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	return s.Put(ctx, remotePath, f)
}

// Download copies remotePath into a local file, replacing it.
func Download(ctx context.Context, s Store, remotePath, localPath string) error {
	rc, err := s.Get(ctx, remotePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("copy %s: %w", remotePath, err)
	}
	return f.Close()
}

// ReadAll downloads remotePath into memory, refusing objects larger than limit bytes.
// A limit <= 0 disables the check.
func ReadAll(ctx context.Context, s Store, remotePath string, limit int64) ([]byte, error) {
	rc, err := s.Get(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := io.Reader(rc)
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Transient(fmt.Errorf("read %s: %w", remotePath, err))
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errs.Validationf("object %s exceeds %d bytes", remotePath, limit)
	}
	return data, nil
}

// ObjectPath builds the storage path of an uploaded document.
func ObjectPath(tenantID, collectionID, categoryID, objectID, filename string) string {
	return path.Join(tenantID, collectionID, categoryID, objectID+"-"+filepath.Base(filename))
}

// cleanPath normalises a remote path and rejects ones escaping the store root.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	slashed := strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if cleaned == "" {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}
