// Package index defines the tenant-scoped vector index used to store and search
// document chunks.
//
// Every operation takes a tenant id and implementations must filter by it
// unconditionally. Distances are cosine distances (1 - cosine similarity) and
// search results are ordered ascending.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bull/ragindex/internal/errs"
)

// Payload keys shared by the backends.
const (
	FieldTenantID     = "tenant_id"
	FieldDocumentID   = "document_id"
	FieldCategoryID   = "category_id"
	FieldCollectionID = "collection_id"
	FieldContent      = "content"
	FieldPosition     = "position"
	FieldCreatedAt    = "created_at"
)

// ErrEmptyScope is returned by DeleteByScope when no scope key is set.
var ErrEmptyScope = fmt.Errorf("%w: delete requires a document, category or collection scope", errs.ErrValidation)

// Record is one indexed chunk. CategoryID and CollectionID are copied from the
// owning document at insert time so scoped deletes and searches need no join.
type Record struct {
	ID           string
	TenantID     string
	DocumentID   string
	CategoryID   string
	CollectionID string
	Position     int
	Content      string
	Vector       []float32
	CreatedAt    time.Time
}

// Scope selects chunks for deletion or counting. Every non-empty key must match.
type Scope struct {
	DocumentID   string
	CategoryID   string
	CollectionID string
}

// Empty reports whether no key is set.
func (s Scope) Empty() bool {
	return s.DocumentID == "" && s.CategoryID == "" && s.CollectionID == ""
}

// SearchScope narrows a search. An empty SearchScope searches the whole tenant.
// CollectionIDs match any of the listed collections.
type SearchScope struct {
	DocumentID    string
	CategoryID    string
	CollectionIDs []string
}

// Match is a search hit. Record.Vector is not populated.
type Match struct {
	Record
	Distance float64
}

// Repository is a tenant-partitioned vector index.
type Repository interface {
	// Insert stores records and returns their ids in input order.
	// Records without an id get a generated one.
	Insert(ctx context.Context, tenantID string, records []Record) ([]string, error)
	// DeleteByScope removes every chunk of the tenant matching scope.
	DeleteByScope(ctx context.Context, tenantID string, scope Scope) error
	// Search returns at most topK chunks ordered by ascending distance.
	Search(ctx context.Context, tenantID string, query []float32, topK int, scope SearchScope) ([]Match, error)
	// Count returns the number of chunks of the tenant matching scope.
	// An empty scope counts the whole tenant.
	Count(ctx context.Context, tenantID string, scope Scope) (int, error)
	Close() error
}

// ValidateInsert checks records before they are written.
func ValidateInsert(tenantID string, records []Record, dimension int) error {
	if tenantID == "" {
		return errs.Validationf("tenant id is required")
	}
	for i, r := range records {
		if r.TenantID != "" && r.TenantID != tenantID {
			return errs.Validationf("record %d belongs to tenant %q, not %q", i, r.TenantID, tenantID)
		}
		if r.DocumentID == "" {
			return errs.Validationf("record %d has no document id", i)
		}
		if len(r.Vector) == 0 {
			return errs.Validationf("record %d has an empty vector", i)
		}
		if dimension > 0 && len(r.Vector) != dimension {
			return errs.Validationf("record %d has %d dimensions, expected %d", i, len(r.Vector), dimension)
		}
	}
	return nil
}

// ValidateDelete checks a delete request.
func ValidateDelete(tenantID string, scope Scope) error {
	if tenantID == "" {
		return errs.Validationf("tenant id is required")
	}
	if scope.Empty() {
		return ErrEmptyScope
	}
	return nil
}

// ValidateSearch checks a search request.
func ValidateSearch(tenantID string, query []float32, topK, dimension int) error {
	if tenantID == "" {
		return errs.Validationf("tenant id is required")
	}
	if topK <= 0 {
		return errs.Validationf("topK must be positive, got %d", topK)
	}
	if len(query) == 0 {
		return errs.Validationf("query vector is empty")
	}
	if dimension > 0 && len(query) != dimension {
		return errs.Validationf("query has %d dimensions, expected %d", len(query), dimension)
	}
	return nil
}

// CosineDistance converts a cosine similarity into a distance.
func CosineDistance(similarity float32) float64 {
	d := 1 - float64(similarity)
	if d < 0 && d > -1e-6 {
		return 0
	}
	return d
}

// SortMatches orders matches by ascending distance, breaking ties by id, and
// truncates the result to topK. NaN distances sort last.
func SortMatches(matches []Match, topK int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		di, dj := matches[i].Distance, matches[j].Distance
		switch {
		case math.IsNaN(di):
			return false
		case math.IsNaN(dj):
			return true
		case di != dj:
			return di < dj
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}
