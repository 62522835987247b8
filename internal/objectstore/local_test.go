package objectstore

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragindex/internal/errs"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), "http://localhost:8080/", []byte("secret"))
	require.NoError(t, err)
	return s
}

func TestLocalStore_PutGetDelete(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "t1/c1/cat1/doc.txt", strings.NewReader("refund policy")))

	rc, err := s.Get(ctx, "t1/c1/cat1/doc.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "refund policy", string(data))

	require.NoError(t, s.Put(ctx, "t1/c1/cat1/doc.txt", strings.NewReader("replaced")))
	data, err = ReadAll(ctx, s, "t1/c1/cat1/doc.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, s.Delete(ctx, "t1/c1/cat1/doc.txt"))
	_, err = s.Get(ctx, "t1/c1/cat1/doc.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "t1/c1/cat1/doc.txt"), ErrObjectNotFound)
}

func TestLocalStore_RejectsEscapingPaths(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()

	for _, p := range []string{"", "../etc/passwd", "a/../../b", "a\\..\\b"} {
		err := s.Put(ctx, p, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidPath, "path %q", p)
	}
}

func TestLocalStore_List(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()

	for _, p := range []string{"t1/a.txt", "t1/sub/b.txt", "t2/c.txt"} {
		require.NoError(t, s.Put(ctx, p, strings.NewReader(p)))
	}

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1/a.txt", "t1/sub/b.txt", "t2/c.txt"}, all)

	t1, err := s.List(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1/a.txt", "t1/sub/b.txt"}, t1)

	none, err := s.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUploadDownload(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))
	require.NoError(t, Upload(ctx, s, src, "t1/in.txt"))

	dst := filepath.Join(dir, "out.txt")
	require.NoError(t, Download(ctx, s, "t1/in.txt", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestReadAll_Limit(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "big.txt", strings.NewReader(strings.Repeat("x", 100))))

	_, err := ReadAll(ctx, s, "big.txt", 10)
	assert.ErrorIs(t, err, errs.ErrValidation)

	data, err := ReadAll(ctx, s, "big.txt", 100)
	require.NoError(t, err)
	assert.Len(t, data, 100)
}

func TestLocalStore_SignedURL(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "t1/report 2024.txt", strings.NewReader("x")))

	raw, err := s.GenerateDownloadURL(ctx, "t1/report 2024.txt", 0)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/v1/objects/t1/report 2024.txt", u.Path)
	expires := u.Query().Get("expires")
	sig := u.Query().Get("signature")
	assert.Equal(t, "1700003600", expires)

	assert.NoError(t, s.VerifySignature("t1/report 2024.txt", expires, sig))
	assert.ErrorIs(t, s.VerifySignature("t1/other.txt", expires, sig), ErrInvalidSignature)
	assert.ErrorIs(t, s.VerifySignature("t1/report 2024.txt", "1700009999", sig), ErrInvalidSignature)

	now = now.Add(61 * time.Minute)
	assert.ErrorIs(t, s.VerifySignature("t1/report 2024.txt", expires, sig), ErrInvalidSignature)

	_, err = s.GenerateDownloadURL(ctx, "t1/missing.txt", time.Minute)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "t1/c1/k1/id-file.pdf", ObjectPath("t1", "c1", "k1", "id", "/tmp/uploads/file.pdf"))
}

func TestNewLocalStore_RequiresKey(t *testing.T) {
	_, err := NewLocalStore(t.TempDir(), "", nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}
