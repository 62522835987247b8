// Package document holds the document lifecycle model and the SQLite-backed
// Document Store and catalog (organizations, collections, categories).
package document

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bull/ragindex/internal/errs"
)

// Status is the indexing lifecycle state of a document.
type Status string

const (
	StatusPending  Status = "pending"
	StatusEmbedded Status = "embedded"
	StatusUpdated  Status = "updated"
	StatusDeleted  Status = "deleted"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusEmbedded, StatusUpdated, StatusDeleted}

// MaxNameLength bounds a document display name, counted in characters.
const MaxNameLength = 100

// ParseStatus parses a status case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", errs.Validationf("unknown document status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusEmbedded, StatusUpdated, StatusDeleted:
		return true
	}
	return false
}

// NeedsIndexing reports whether a Sync must (re)build this document's chunks.
func (s Status) NeedsIndexing() bool {
	return s == StatusPending || s == StatusUpdated
}

var transitions = map[Status][]Status{
	StatusPending:  {StatusEmbedded, StatusDeleted},
	StatusEmbedded: {StatusUpdated, StatusDeleted},
	StatusUpdated:  {StatusEmbedded, StatusDeleted},
	StatusDeleted:  nil,
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
// DELETED is terminal: the record is removed from the store, never revived.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Document is one uploaded source file.
type Document struct {
	ID           string
	TenantID     string
	CollectionID string // resolved through the owning category
	CategoryID   string
	Name         string
	StorageURI   string
	Status       Status
	// Revision increases on every status or content change.
	Revision     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Version is the status and revision of a document as read at one point in time.
type Version struct {
	Status   Status
	Revision int64
}

// Version returns the document's current version.
func (d Document) Version() Version {
	return Version{Status: d.Status, Revision: d.Revision}
}

// NewDocument describes a document to create in PENDING.
type NewDocument struct {
	TenantID   string
	CategoryID string
	Name       string
	StorageURI string
}

// Validate checks the fields of a new document before it reaches the database.
func (n NewDocument) Validate() error {
	switch {
	case n.TenantID == "":
		return errs.Validationf("tenant id is required")
	case n.CategoryID == "":
		return errs.Validationf("category id is required")
	case strings.TrimSpace(n.Name) == "":
		return errs.Validationf("document name is required")
	case utf8.RuneCountInString(n.Name) > MaxNameLength:
		return errs.Validationf("document name exceeds %d characters", MaxNameLength)
	case n.StorageURI == "":
		return errs.Validationf("storage uri is required")
	}
	return nil
}

// Organization is a tenant.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Collection groups categories for one tenant.
type Collection struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
}

// Category groups documents inside a collection.
type Category struct {
	ID           string
	TenantID     string
	CollectionID string
	Name         string
	CreatedAt    time.Time
}

// Store is the part of the Document Store the reconciliation engine depends on.
type Store interface {
	ListByCollection(ctx context.Context, tenantID, collectionID string) ([]Document, error)
	UpdateStatus(ctx context.Context, tenantID, documentID string, status Status) error
	// TransitionStatus moves a document to status to only if it still has the
	// observed status and revision. It fails with ErrStatusChanged otherwise.
	TransitionStatus(ctx context.Context, tenantID, documentID string, observed Version, to Status) error
	Delete(ctx context.Context, tenantID, documentID string) error
}

// StatusCounter reports how many documents of a collection are in each status.
type StatusCounter interface {
	CountByStatus(ctx context.Context, tenantID, collectionID string) (map[Status]int, error)
}

// Catalog answers existence checks used to validate scope before Sync or Search.
type Catalog interface {
	CollectionExists(ctx context.Context, tenantID, collectionID string) (bool, error)
	CategoryExists(ctx context.Context, tenantID, categoryID string) (bool, error)
}

// CollectionNotFound builds the error returned for a collection missing for a tenant.
func CollectionNotFound(collectionID string) error {
	return &notFoundError{
		kind: ErrCollectionNotFound,
		msg:  fmt.Sprintf("collection with ID '%s' does not exist", collectionID),
	}
}

// CategoryNotFound builds the error returned for a category missing for a tenant.
func CategoryNotFound(categoryID string) error {
	return &notFoundError{
		kind: ErrCategoryNotFound,
		msg:  fmt.Sprintf("category with ID '%s' does not exist", categoryID),
	}
}

type notFoundError struct {
	kind error
	msg  string
}

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Unwrap() error { return e.kind }
