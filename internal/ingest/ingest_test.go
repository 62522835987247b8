package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/objectstore"
)

type testEnv struct {
	store    *document.SQLStore
	objects  *objectstore.LocalStore
	svc      *Service
	tenant   string
	category *document.Category
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := document.Open(filepath.Join(dir, "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	objects, err := objectstore.NewLocalStore(filepath.Join(dir, "objects"), "http://localhost:8080", []byte("test-key"))
	require.NoError(t, err)

	org, err := store.CreateOrganization(ctx, "acme")
	require.NoError(t, err)
	col, err := store.CreateCollection(ctx, org.ID, "handbook")
	require.NoError(t, err)
	cat, err := store.CreateCategory(ctx, org.ID, col.ID, "policies")
	require.NoError(t, err)

	return &testEnv{
		store:    store,
		objects:  objects,
		svc:      NewService(store, objects, 1024, nil),
		tenant:   org.ID,
		category: cat,
	}
}

func (env *testEnv) upload(t *testing.T, filename, content string) *document.Document {
	t.Helper()
	doc, err := env.svc.Upload(context.Background(), Upload{
		TenantID:   env.tenant,
		CategoryID: env.category.ID,
		Filename:   filename,
		Content:    strings.NewReader(content),
	})
	require.NoError(t, err)
	return doc
}

func readObject(t *testing.T, s objectstore.Store, remotePath string) string {
	t.Helper()
	data, err := objectstore.ReadAll(context.Background(), s, remotePath, 0)
	require.NoError(t, err)
	return string(data)
}

func TestUpload_CreatesPendingDocument(t *testing.T) {
	env := newTestEnv(t)
	doc := env.upload(t, "refunds.md", "# Refund Policy\n\nReturns within 30 days.")

	assert.Equal(t, document.StatusPending, doc.Status)
	assert.Equal(t, "Refund Policy", doc.Name)
	assert.Equal(t, env.category.CollectionID, doc.CollectionID)

	prefix := env.tenant + "/" + env.category.CollectionID + "/" + env.category.ID + "/"
	assert.True(t, strings.HasPrefix(doc.StorageURI, prefix), doc.StorageURI)
	assert.True(t, strings.HasSuffix(doc.StorageURI, "-refunds.md"), doc.StorageURI)
	assert.Equal(t, "# Refund Policy\n\nReturns within 30 days.", readObject(t, env.objects, doc.StorageURI))

	stored, err := env.store.Get(context.Background(), env.tenant, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.StorageURI, stored.StorageURI)
}

func TestUpload_ExplicitNameAndFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, err := env.svc.Upload(ctx, Upload{
		TenantID:   env.tenant,
		CategoryID: env.category.ID,
		Filename:   "notes.txt",
		Name:       "Shipping notes",
		Content:    strings.NewReader("ships in two days"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Shipping notes", doc.Name)

	plain := env.upload(t, "holidays.txt", "# not a title in plain text")
	assert.Equal(t, "holidays", plain.Name)
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Upload(ctx, Upload{TenantID: env.tenant, CategoryID: env.category.ID, Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = env.svc.Upload(ctx, Upload{TenantID: env.tenant, CategoryID: env.category.ID, Filename: "a.txt"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = env.svc.Upload(ctx, Upload{
		TenantID:   env.tenant,
		CategoryID: env.category.ID,
		Filename:   "big.txt",
		Content:    strings.NewReader(strings.Repeat("a", 1025)),
	})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = env.svc.Upload(ctx, Upload{
		TenantID:   env.tenant,
		CategoryID: "missing",
		Filename:   "a.txt",
		Content:    strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, document.ErrCategoryNotFound)
}

// failingLibrary rejects every Create so compensation can be observed.
type failingLibrary struct {
	Library
}

func (failingLibrary) Create(context.Context, document.NewDocument) (*document.Document, error) {
	return nil, errors.New("database is gone")
}

func TestUpload_RemovesObjectWhenCreateFails(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(failingLibrary{Library: env.store}, env.objects, 0, nil)

	_, err := svc.Upload(context.Background(), Upload{
		TenantID:   env.tenant,
		CategoryID: env.category.ID,
		Filename:   "a.txt",
		Content:    strings.NewReader("orphan"),
	})
	require.Error(t, err)

	paths, err := env.objects.List(context.Background(), env.tenant)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestReplace_MarksUpdated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.upload(t, "refunds.md", "old")

	// Pending documents stay pending, but a new revision is recorded.
	require.NoError(t, env.svc.Replace(ctx, env.tenant, doc.ID, strings.NewReader("newer")))
	got, err := env.store.Get(ctx, env.tenant, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusPending, got.Status)
	assert.Greater(t, got.Revision, doc.Revision)

	require.NoError(t, env.store.UpdateStatus(ctx, env.tenant, doc.ID, document.StatusEmbedded))
	require.NoError(t, env.svc.Replace(ctx, env.tenant, doc.ID, strings.NewReader("newest")))
	got, err = env.store.Get(ctx, env.tenant, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusUpdated, got.Status)
	assert.Equal(t, "newest", readObject(t, env.objects, doc.StorageURI))
}

func TestRemove_ThenReplaceRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.upload(t, "refunds.md", "body")

	require.NoError(t, env.svc.Remove(ctx, env.tenant, doc.ID))
	got, err := env.store.Get(ctx, env.tenant, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusDeleted, got.Status)

	assert.ErrorIs(t, env.svc.Replace(ctx, env.tenant, doc.ID, strings.NewReader("x")), document.ErrDocumentDeleted)
	assert.ErrorIs(t, env.svc.MarkUpdated(ctx, env.tenant, doc.ID), document.ErrDocumentDeleted)
}

func TestDownloadURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.upload(t, "refunds.md", "body")

	u, err := env.svc.DownloadURL(ctx, env.tenant, doc.ID, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://localhost:8080/v1/objects/"), u)
	assert.Contains(t, u, "signature=")

	_, err = env.svc.DownloadURL(ctx, "other-tenant", doc.ID, 0)
	assert.ErrorIs(t, err, document.ErrDocumentNotFound)
}
