// Package qdrant implements index.Repository on a Qdrant server.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/index"
)

const (
	// DefaultCollection is the single Qdrant collection holding all tenants' chunks.
	DefaultCollection = "chunks"
	// VectorName is the named vector chunks are stored under.
	VectorName = "content"

	hnswM           = 16
	hnswEfConstruct = 200
	upsertBatchSize = 100
)

// ErrQdrantUnreachable is returned when the startup health check gives up.
var ErrQdrantUnreachable = errors.New("qdrant server unreachable")

// Config locates the Qdrant server and collection.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// Repository wraps the Qdrant client with connection management and health checks.
type Repository struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

var _ index.Repository = (*Repository)(nil)

// New connects to Qdrant, waits for it to become healthy and ensures the
// collection exists.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dimension <= 0 {
		return nil, errs.Validationf("qdrant index needs a positive dimension")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	r := &Repository{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		logger:     logger,
		newBackOff: defaultBackOff,
	}

	if err := r.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	if err := r.EnsureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return r, nil
}

// defaultBackOff retries with an initial interval of 500ms, max interval 10s,
// max elapsed 30s.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (r *Repository) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		return r.Health(ctx)
	}, backoff.WithContext(r.newBackOff(), ctx))
}

// Health performs a single health check against Qdrant.
func (r *Repository) Health(ctx context.Context) error {
	result, err := r.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the chunk collection with a cosine HNSW index and
// keyword payload indexes for every scope field. Idempotent.
func (r *Repository) EnsureCollection(ctx context.Context) error {
	collections, err := r.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == r.collection {
			return nil
		}
	}

	err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			VectorName: {
				Size:     uint64(r.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
		HnswConfig: &qdrant.HnswConfigDiff{
			M:           qdrant.PtrOf(uint64(hnswM)),
			EfConstruct: qdrant.PtrOf(uint64(hnswEfConstruct)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := r.createPayloadIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}
	r.logger.Info("Created qdrant collection", "collection", r.collection, "dimension", r.dimension)
	return nil
}

// createPayloadIndexes indexes every field used in filters.
func (r *Repository) createPayloadIndexes(ctx context.Context) error {
	fields := []string{
		index.FieldTenantID,
		index.FieldDocumentID,
		index.FieldCategoryID,
		index.FieldCollectionID,
	}
	for _, field := range fields {
		_, err := r.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: r.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// Close closes the Qdrant client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Insert upserts records in batches of 100 and returns their ids.
func (r *Repository) Insert(ctx context.Context, tenantID string, records []index.Record) ([]string, error) {
	if err := index.ValidateInsert(tenantID, records, r.dimension); err != nil {
		return nil, err
	}

	ids := make([]string, len(records))
	for i := 0; i < len(records); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(records))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for j := i; j < end; j++ {
			rec := records[j]
			ids[j] = rec.ID
			if ids[j] == "" {
				ids[j] = uuid.New().String()
			}
			createdAt := rec.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			points = append(points, &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(ids[j]),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					VectorName: qdrant.NewVector(rec.Vector...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					index.FieldTenantID:     tenantID,
					index.FieldDocumentID:   rec.DocumentID,
					index.FieldCategoryID:   rec.CategoryID,
					index.FieldCollectionID: rec.CollectionID,
					index.FieldPosition:     int64(rec.Position),
					index.FieldContent:      rec.Content,
					index.FieldCreatedAt:    createdAt.Format(time.RFC3339Nano),
				}),
			})
		}

		if err := r.upsertWithRetry(ctx, points); err != nil {
			return nil, fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return ids, nil
}

func (r *Repository) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	return backoff.Retry(func() error {
		_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: r.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err = classify(err); err != nil && !errs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(r.newBackOff(), ctx))
}

// DeleteByScope removes the tenant's chunks matching scope.
func (r *Repository) DeleteByScope(ctx context.Context, tenantID string, scope index.Scope) error {
	if err := index.ValidateDelete(tenantID, scope); err != nil {
		return err
	}
	_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: scopeFilter(tenantID, scope, nil),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", classify(err))
	}
	return nil
}

// Search performs vector similarity search on the tenant's chunks.
func (r *Repository) Search(ctx context.Context, tenantID string, query []float32, topK int, scope index.SearchScope) ([]index.Match, error) {
	if err := index.ValidateSearch(tenantID, query, topK, r.dimension); err != nil {
		return nil, err
	}

	vectorName := VectorName
	results, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(query...),
		Using:          &vectorName,
		Filter: scopeFilter(tenantID, index.Scope{
			DocumentID: scope.DocumentID,
			CategoryID: scope.CategoryID,
		}, scope.CollectionIDs),
		Limit:       qdrant.PtrOf(uint64(topK)),
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", classify(err))
	}

	matches := make([]index.Match, 0, len(results))
	for _, res := range results {
		p := res.Payload
		createdAt, _ := time.Parse(time.RFC3339Nano, p[index.FieldCreatedAt].GetStringValue())
		matches = append(matches, index.Match{
			Record: index.Record{
				ID:           res.Id.GetUuid(),
				TenantID:     p[index.FieldTenantID].GetStringValue(),
				DocumentID:   p[index.FieldDocumentID].GetStringValue(),
				CategoryID:   p[index.FieldCategoryID].GetStringValue(),
				CollectionID: p[index.FieldCollectionID].GetStringValue(),
				Position:     int(p[index.FieldPosition].GetIntegerValue()),
				Content:      p[index.FieldContent].GetStringValue(),
				CreatedAt:    createdAt,
			},
			Distance: index.CosineDistance(res.Score),
		})
	}
	// Qdrant orders by score already; re-sorting keeps ties deterministic.
	return index.SortMatches(matches, topK), nil
}

// Count returns the exact number of the tenant's chunks matching scope.
func (r *Repository) Count(ctx context.Context, tenantID string, scope index.Scope) (int, error) {
	if tenantID == "" {
		return 0, errs.Validationf("tenant id is required")
	}
	n, err := r.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: r.collection,
		Filter:         scopeFilter(tenantID, scope, nil),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", classify(err))
	}
	return int(n), nil
}

// scopeFilter builds a filter that always matches the tenant, then every set
// scope key. collectionIDs match any of the given ids.
func scopeFilter(tenantID string, scope index.Scope, collectionIDs []string) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch(index.FieldTenantID, tenantID),
	}
	if scope.DocumentID != "" {
		must = append(must, qdrant.NewMatch(index.FieldDocumentID, scope.DocumentID))
	}
	if scope.CategoryID != "" {
		must = append(must, qdrant.NewMatch(index.FieldCategoryID, scope.CategoryID))
	}
	if scope.CollectionID != "" {
		must = append(must, qdrant.NewMatch(index.FieldCollectionID, scope.CollectionID))
	}
	if len(collectionIDs) > 0 {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: index.FieldCollectionID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: collectionIDs},
						},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: must}
}
