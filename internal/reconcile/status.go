package reconcile

import (
	"context"
	"fmt"

	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/index"
)

// IndexStatus summarises how far a collection is indexed.
type IndexStatus struct {
	TenantID     string
	CollectionID string
	Documents    map[document.Status]int
	Chunks       int
}

// Pending returns the number of documents the next Sync will act on.
func (s *IndexStatus) Pending() int {
	return s.Documents[document.StatusPending] + s.Documents[document.StatusUpdated] + s.Documents[document.StatusDeleted]
}

// Inspect reports document counts per status and the number of indexed chunks
// of a collection. The document store must implement document.StatusCounter.
func (e *Engine) Inspect(ctx context.Context, tenantID, collectionID string) (*IndexStatus, error) {
	if tenantID == "" || collectionID == "" {
		return nil, errs.Validationf("tenant id and collection id are required")
	}
	counter, ok := e.docs.(document.StatusCounter)
	if !ok {
		return nil, fmt.Errorf("document store %T cannot count documents", e.docs)
	}

	exists, err := e.catalog.CollectionExists(ctx, tenantID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		return nil, document.CollectionNotFound(collectionID)
	}

	counts, err := counter.CountByStatus(ctx, tenantID, collectionID)
	if err != nil {
		return nil, err
	}
	chunks, err := e.index.Count(ctx, tenantID, index.Scope{CollectionID: collectionID})
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	return &IndexStatus{TenantID: tenantID, CollectionID: collectionID, Documents: counts, Chunks: chunks}, nil
}
