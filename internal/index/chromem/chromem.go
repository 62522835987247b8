// Package chromem implements index.Repository on top of the embedded chromem-go
// vector database. It is used for single-node deployments and in tests.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/index"
)

// DefaultCollection is the chromem collection holding all tenants' chunks.
const DefaultCollection = "chunks"

var errNoEmbedding = errors.New("chromem repository requires precomputed embeddings")

// Config configures a Repository.
type Config struct {
	// Path enables persistence. Empty keeps the index in memory.
	Path       string
	Compress   bool
	Collection string
	Dimension  int
}

// Repository is a chromem-go backed index.Repository.
type Repository struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
	logger     *slog.Logger
}

var _ index.Repository = (*Repository)(nil)

// New opens or creates the chromem database described by cfg.
func New(cfg Config, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dimension <= 0 {
		return nil, errs.Validationf("chromem index needs a positive dimension")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", cfg.Path, err)
		}
	}

	// Pass an embedding func so chromem does not default to its OpenAI embedder.
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedding
	})
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	logger.Debug("Opened chromem index",
		"path", cfg.Path,
		"collection", cfg.Collection,
		"chunks", collection.Count(),
	)
	return &Repository{db: db, collection: collection, dimension: cfg.Dimension, logger: logger}, nil
}

// Insert adds records. Ids are generated for records without one.
func (r *Repository) Insert(ctx context.Context, tenantID string, records []index.Record) ([]string, error) {
	if err := index.ValidateInsert(tenantID, records, r.dimension); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	docs := make([]chromem.Document, len(records))
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		if ids[i] == "" {
			ids[i] = uuid.New().String()
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		docs[i] = chromem.Document{
			ID:      ids[i],
			Content: rec.Content,
			Metadata: map[string]string{
				index.FieldTenantID:     tenantID,
				index.FieldDocumentID:   rec.DocumentID,
				index.FieldCategoryID:   rec.CategoryID,
				index.FieldCollectionID: rec.CollectionID,
				index.FieldPosition:     strconv.Itoa(rec.Position),
				index.FieldCreatedAt:    createdAt.Format(time.RFC3339Nano),
			},
			// chromem normalises in place; keep the caller's slice intact.
			Embedding: append([]float32(nil), rec.Vector...),
		}
	}

	if err := r.collection.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fmt.Errorf("adding chunks: %w", err)
	}
	return ids, nil
}

// DeleteByScope removes the tenant's chunks matching scope.
func (r *Repository) DeleteByScope(ctx context.Context, tenantID string, scope index.Scope) error {
	if err := index.ValidateDelete(tenantID, scope); err != nil {
		return err
	}
	if err := r.collection.Delete(ctx, scopeFilter(tenantID, scope), nil); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// Search returns the nearest chunks of the tenant. Each collection id is
// queried separately because chromem filters only support equality.
func (r *Repository) Search(ctx context.Context, tenantID string, query []float32, topK int, scope index.SearchScope) ([]index.Match, error) {
	if err := index.ValidateSearch(tenantID, query, topK, r.dimension); err != nil {
		return nil, err
	}

	base := scopeFilter(tenantID, index.Scope{DocumentID: scope.DocumentID, CategoryID: scope.CategoryID})
	filters := []map[string]string{base}
	if len(scope.CollectionIDs) > 0 {
		filters = filters[:0]
		seen := make(map[string]bool, len(scope.CollectionIDs))
		for _, id := range scope.CollectionIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			f := make(map[string]string, len(base)+1)
			for k, v := range base {
				f[k] = v
			}
			f[index.FieldCollectionID] = id
			filters = append(filters, f)
		}
	}

	var matches []index.Match
	for _, where := range filters {
		results, err := r.query(ctx, query, topK, where)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			matches = append(matches, index.Match{
				Record:   recordFromResult(res),
				Distance: index.CosineDistance(res.Similarity),
			})
		}
	}
	return index.SortMatches(matches, topK), nil
}

// Count returns the number of the tenant's chunks matching scope.
func (r *Repository) Count(ctx context.Context, tenantID string, scope index.Scope) (int, error) {
	if tenantID == "" {
		return 0, errs.Validationf("tenant id is required")
	}
	unit := make([]float32, r.dimension)
	unit[0] = 1
	results, err := r.query(ctx, unit, r.collection.Count(), scopeFilter(tenantID, scope))
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Close is a no-op. Persistent databases write through on every change.
func (r *Repository) Close() error {
	return nil
}

func (r *Repository) query(ctx context.Context, vector []float32, n int, where map[string]string) ([]chromem.Result, error) {
	// chromem rejects nResults larger than the collection.
	if total := r.collection.Count(); n > total {
		n = total
	}
	if n == 0 {
		return nil, nil
	}
	results, err := r.collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	return results, nil
}

func scopeFilter(tenantID string, scope index.Scope) map[string]string {
	where := map[string]string{index.FieldTenantID: tenantID}
	if scope.DocumentID != "" {
		where[index.FieldDocumentID] = scope.DocumentID
	}
	if scope.CategoryID != "" {
		where[index.FieldCategoryID] = scope.CategoryID
	}
	if scope.CollectionID != "" {
		where[index.FieldCollectionID] = scope.CollectionID
	}
	return where
}

func recordFromResult(res chromem.Result) index.Record {
	position, _ := strconv.Atoi(res.Metadata[index.FieldPosition])
	createdAt, _ := time.Parse(time.RFC3339Nano, res.Metadata[index.FieldCreatedAt])
	return index.Record{
		ID:           res.ID,
		TenantID:     res.Metadata[index.FieldTenantID],
		DocumentID:   res.Metadata[index.FieldDocumentID],
		CategoryID:   res.Metadata[index.FieldCategoryID],
		CollectionID: res.Metadata[index.FieldCollectionID],
		Position:     position,
		Content:      res.Content,
		CreatedAt:    createdAt,
	}
}
