package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bull/ragindex/internal/errs"
)

// ErrInvalidSignature is returned for tampered or expired download URLs.
var ErrInvalidSignature = fmt.Errorf("%w: invalid or expired download signature", errs.ErrValidation)

// LocalStore keeps objects under a root directory and signs download URLs
// that the HTTP server verifies with VerifySignature.
type LocalStore struct {
	root    string
	baseURL string
	key     []byte
	now     func() time.Time
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates a store rooted at root. baseURL is the public address
// of the server that serves /v1/objects; key signs download URLs.
func NewLocalStore(root, baseURL string, key []byte) (*LocalStore, error) {
	if len(key) == 0 {
		return nil, errs.Validationf("object store signing key is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating object store root: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		key:     key,
		now:     time.Now,
	}, nil
}

func (s *LocalStore) resolve(remotePath string) (string, string, error) {
	clean, err := cleanPath(remotePath)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes r to remotePath atomically.
func (s *LocalStore) Put(ctx context.Context, remotePath string, r io.Reader) error {
	_, full, err := s.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing object: %w", err)
	}
	return os.Rename(tmp.Name(), full)
}

// Get opens remotePath for reading.
func (s *LocalStore) Get(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	_, full, err := s.resolve(remotePath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, remotePath)
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Delete removes remotePath.
func (s *LocalStore) Delete(ctx context.Context, remotePath string) error {
	_, full, err := s.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, remotePath)
	}
	return err
}

// List returns the paths of all objects under prefix, sorted.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	dir := s.root
	if prefix != "" {
		_, full, err := s.resolve(prefix)
		if err != nil {
			return nil, err
		}
		dir = full
	}

	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// GenerateDownloadURL returns a URL valid for ttl. A non-positive ttl uses DefaultURLExpiry.
func (s *LocalStore) GenerateDownloadURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error) {
	clean, full, err := s.resolve(remotePath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrObjectNotFound, remotePath)
	}
	if ttl <= 0 {
		ttl = DefaultURLExpiry
	}

	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(clean, expires))
	return s.baseURL + "/v1/objects/" + (&url.URL{Path: clean}).EscapedPath() + "?" + q.Encode(), nil
}

// VerifySignature checks a signature produced by GenerateDownloadURL.
func (s *LocalStore) VerifySignature(remotePath, expires, signature string) error {
	clean, err := cleanPath(remotePath)
	if err != nil {
		return err
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().Unix() > exp {
		return ErrInvalidSignature
	}
	want := s.sign(clean, exp)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *LocalStore) sign(clean string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%d", clean, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
