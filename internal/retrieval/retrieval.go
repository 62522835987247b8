// Package retrieval answers similarity queries against the chunk index.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/embedding"
	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/index"
	"github.com/bull/ragindex/internal/metrics"
)

// DefaultTopK is the number of passages front ends ask for when their caller
// leaves the amount open.
const DefaultTopK = 20

// Passage is one retrieved chunk. Lower distance means more similar.
type Passage struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	CollectionID string  `json:"collection_id"`
	Position     int     `json:"position"`
	Content      string  `json:"content"`
	Distance     float64 `json:"distance"`
}

// Service embeds queries and searches the index. It never mutates anything.
type Service struct {
	catalog  document.Catalog
	embedder embedding.Embedder
	index    index.Repository
	topK     int
	maxTopK  int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultTopK sets the value reported by DefaultTopK.
func WithDefaultTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithMaxTopK rejects searches asking for more than k results. Zero disables the cap.
func WithMaxTopK(k int) Option {
	return func(s *Service) { s.maxTopK = k }
}

// WithMetrics records search latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a retrieval service.
func NewService(catalog document.Catalog, embedder embedding.Embedder, idx index.Repository, opts ...Option) *Service {
	s := &Service{
		catalog:  catalog,
		embedder: embedder,
		index:    idx,
		topK:     DefaultTopK,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTopK is the configured result size for callers that do not pick one.
func (s *Service) DefaultTopK() int { return s.topK }

// Search returns at most topK passages of the given collections closest to
// queryText, ordered by ascending distance.
//
// Arguments are validated before any I/O. Every collection must exist for the
// tenant, otherwise Search fails with the collection's not-found error.
func (s *Service) Search(ctx context.Context, tenantID string, collectionIDs []string, queryText string, topK int) ([]Passage, error) {
	start := time.Now()
	passages, err := s.search(ctx, tenantID, collectionIDs, queryText, topK)
	s.metrics.ObserveSearch(time.Since(start), err)
	return passages, err
}

func (s *Service) search(ctx context.Context, tenantID string, collectionIDs []string, queryText string, topK int) ([]Passage, error) {
	switch {
	case tenantID == "":
		return nil, errs.Validationf("tenant id is required")
	case strings.TrimSpace(queryText) == "":
		return nil, errs.Validationf("query text is empty")
	case len(collectionIDs) == 0:
		return nil, errs.Validationf("at least one collection id is required")
	case topK <= 0:
		return nil, errs.Validationf("topK must be positive, got %d", topK)
	case s.maxTopK > 0 && topK > s.maxTopK:
		return nil, errs.Validationf("topK %d exceeds the maximum of %d", topK, s.maxTopK)
	}
	for _, id := range collectionIDs {
		if id == "" {
			return nil, errs.Validationf("collection id must not be empty")
		}
	}

	for _, id := range collectionIDs {
		ok, err := s.catalog.CollectionExists(ctx, tenantID, id)
		if err != nil {
			return nil, fmt.Errorf("check collection: %w", err)
		}
		if !ok {
			return nil, document.CollectionNotFound(id)
		}
	}

	vector, err := s.embedder.EmbedOne(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.index.Search(ctx, tenantID, vector, topK, index.SearchScope{CollectionIDs: collectionIDs})
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	passages := make([]Passage, len(matches))
	for i, m := range matches {
		passages[i] = Passage{
			ChunkID:      m.ID,
			DocumentID:   m.DocumentID,
			CollectionID: m.CollectionID,
			Position:     m.Position,
			Content:      m.Content,
			Distance:     m.Distance,
		}
	}
	s.logger.Debug("Search complete", "tenant", tenantID, "collections", len(collectionIDs), "top_k", topK, "results", len(passages))
	return passages, nil
}
