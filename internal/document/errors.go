package document

import (
	"fmt"

	"github.com/bull/ragindex/internal/errs"
)

var (
	ErrCollectionNotFound   = fmt.Errorf("collection %w", errs.ErrNotFound)
	ErrCategoryNotFound     = fmt.Errorf("category %w", errs.ErrNotFound)
	ErrDocumentNotFound     = fmt.Errorf("document %w", errs.ErrNotFound)
	ErrOrganizationNotFound = fmt.Errorf("organization %w", errs.ErrNotFound)
	ErrDocumentDeleted      = fmt.Errorf("%w: document is deleted", errs.ErrConflict)
	ErrStatusChanged        = fmt.Errorf("%w: document status changed concurrently", errs.ErrConflict)
	ErrInvalidTransition    = fmt.Errorf("%w: invalid status transition", errs.ErrValidation)
	ErrNotMarkedDeleted     = fmt.Errorf("%w: document is not marked deleted", errs.ErrConflict)
	ErrDuplicate            = fmt.Errorf("%w: already exists", errs.ErrConflict)
)
