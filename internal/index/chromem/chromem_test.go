package chromem

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/index"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(Config{Dimension: 3}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestNew_LogsOpen(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	repo, err := New(Config{Dimension: 3}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	assert.Contains(t, buf.String(), `msg="Opened chromem index"`)
}

func rec(doc, category, collection, content string, v ...float32) index.Record {
	return index.Record{
		DocumentID:   doc,
		CategoryID:   category,
		CollectionID: collection,
		Content:      content,
		Vector:       v,
		CreatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func seed(t *testing.T, repo *Repository) {
	t.Helper()
	ctx := context.Background()
	_, err := repo.Insert(ctx, "t1", []index.Record{
		rec("d1", "k1", "c1", "refund policy", 1, 0, 0),
		rec("d1", "k1", "c1", "refund window", 0.9, 0.1, 0),
		rec("d2", "k2", "c2", "shipping times", 0, 1, 0),
		rec("d3", "k3", "c3", "holiday hours", 0, 0, 1),
	})
	require.NoError(t, err)
	_, err = repo.Insert(ctx, "t2", []index.Record{
		rec("x1", "kx", "cx", "refund policy of another tenant", 1, 0, 0),
	})
	require.NoError(t, err)
}

func TestInsert_AssignsIDsInOrder(t *testing.T) {
	repo := newTestRepository(t)
	r := rec("d1", "k1", "c1", "a", 1, 0, 0)
	r.ID = "fixed-id"

	ids, err := repo.Insert(context.Background(), "t1", []index.Record{r, rec("d1", "k1", "c1", "b", 0, 1, 0)})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "fixed-id", ids[0])
	assert.NotEmpty(t, ids[1])
}

func TestInsert_Validation(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, "t1", []index.Record{rec("d1", "k1", "c1", "a", 1, 0)})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = repo.Insert(ctx, "", []index.Record{rec("d1", "k1", "c1", "a", 1, 0, 0)})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSearch_TenantIsolationAndOrdering(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)
	ctx := context.Background()

	matches, err := repo.Search(ctx, "t1", []float32{1, 0, 0}, 10, index.SearchScope{})
	require.NoError(t, err)
	require.Len(t, matches, 4)
	for i, m := range matches {
		assert.Equal(t, "t1", m.TenantID)
		if i > 0 {
			assert.LessOrEqual(t, matches[i-1].Distance, m.Distance)
		}
	}
	assert.Equal(t, "refund policy", matches[0].Content)
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-6)
	assert.Equal(t, "d1", matches[0].DocumentID)
	assert.Equal(t, "c1", matches[0].CollectionID)

	other, err := repo.Search(ctx, "t2", []float32{0, 0, 1}, 10, index.SearchScope{})
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "x1", other[0].DocumentID)
}

func TestSearch_Scopes(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)
	ctx := context.Background()
	q := []float32{1, 1, 1}

	byCollections, err := repo.Search(ctx, "t1", q, 10, index.SearchScope{CollectionIDs: []string{"c2", "c3", "c2"}})
	require.NoError(t, err)
	require.Len(t, byCollections, 2)
	docs := []string{byCollections[0].DocumentID, byCollections[1].DocumentID}
	assert.ElementsMatch(t, []string{"d2", "d3"}, docs)

	byCategory, err := repo.Search(ctx, "t1", q, 10, index.SearchScope{CategoryID: "k1"})
	require.NoError(t, err)
	assert.Len(t, byCategory, 2)

	byDocument, err := repo.Search(ctx, "t1", q, 1, index.SearchScope{DocumentID: "d1"})
	require.NoError(t, err)
	require.Len(t, byDocument, 1)
	assert.Equal(t, "d1", byDocument[0].DocumentID)

	foreign, err := repo.Search(ctx, "t1", q, 10, index.SearchScope{CollectionIDs: []string{"cx"}})
	require.NoError(t, err)
	assert.Empty(t, foreign)
}

func TestSearch_TopKBoundsResults(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)

	matches, err := repo.Search(context.Background(), "t1", []float32{1, 0, 0}, 2, index.SearchScope{CollectionIDs: []string{"c1", "c2", "c3"}})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "d1", matches[0].DocumentID)
	assert.Equal(t, "d1", matches[1].DocumentID)
}

func TestSearch_ValidationBeforeAccess(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Search(ctx, "t1", []float32{1, 0, 0}, 0, index.SearchScope{})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = repo.Search(ctx, "t1", nil, 5, index.SearchScope{})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSearch_EmptyIndex(t *testing.T) {
	repo := newTestRepository(t)
	matches, err := repo.Search(context.Background(), "t1", []float32{1, 0, 0}, 5, index.SearchScope{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDeleteByScope(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)
	ctx := context.Background()

	assert.ErrorIs(t, repo.DeleteByScope(ctx, "t1", index.Scope{}), index.ErrEmptyScope)

	require.NoError(t, repo.DeleteByScope(ctx, "t1", index.Scope{DocumentID: "d1"}))
	n, err := repo.Count(ctx, "t1", index.Scope{DocumentID: "d1"})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, repo.DeleteByScope(ctx, "t1", index.Scope{CollectionID: "c2"}))
	n, err = repo.Count(ctx, "t1", index.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Deleting another tenant's collection from t1 touches nothing.
	require.NoError(t, repo.DeleteByScope(ctx, "t1", index.Scope{CollectionID: "cx"}))
	n, err = repo.Count(ctx, "t2", index.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCount(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	n, err := repo.Count(ctx, "t1", index.Scope{})
	require.NoError(t, err)
	assert.Zero(t, n)

	seed(t, repo)
	n, err = repo.Count(ctx, "t1", index.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = repo.Count(ctx, "t1", index.Scope{CategoryID: "k1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := New(Config{Path: dir, Dimension: 3}, nil)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, "t1", []index.Record{rec("d1", "k1", "c1", "persisted", 1, 0, 0)})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened, err := New(Config{Path: dir, Dimension: 3}, nil)
	require.NoError(t, err)
	matches, err := reopened.Search(ctx, "t1", []float32{1, 0, 0}, 1, index.SearchScope{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "persisted", matches[0].Content)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), matches[0].CreatedAt.UTC())
}

func TestNew_RequiresDimension(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}
