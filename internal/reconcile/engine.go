// Package reconcile keeps the vector index consistent with the document store.
//
// Sync reads every document of a collection and acts on its status:
//
//	embedded  nothing to do
//	deleted   drop the document's chunks, then the document record
//	updated   re-index: replace the chunks, then mark embedded
//	pending   index: write the chunks, then mark embedded
//
// A document is marked embedded only after its new chunks are committed, and
// only if its status is still the one Sync observed. Failures are isolated per
// document: a document that cannot be downloaded, embedded or written keeps its
// status and is reported in Result.Failed so the next Sync retries it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/embedding"
	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/events"
	"github.com/bull/ragindex/internal/index"
	"github.com/bull/ragindex/internal/lease"
	"github.com/bull/ragindex/internal/metrics"
	"github.com/bull/ragindex/internal/objectstore"
	"github.com/bull/ragindex/internal/splitter"
)

const (
	// DefaultWorkers bounds concurrent downloads and index writes.
	DefaultWorkers = 4
	// DefaultMaxDocumentBytes caps the size of a downloaded document.
	DefaultMaxDocumentBytes int64 = 10 << 20
)

// Result contains statistics about a Sync call.
type Result struct {
	TenantID     string
	CollectionID string
	Added        int
	Deleted      int
	Updated      int
	Chunks       int
	Failed       []FailedDocument
	Duration     time.Duration
}

// FailedDocument is a document Sync skipped. Its status is unchanged.
type FailedDocument struct {
	DocumentID string
	Name       string
	Reason     string
}

// Deps are the collaborators of an Engine. Publisher, Metrics and Logger are optional.
type Deps struct {
	Documents document.Store
	Catalog   document.Catalog
	Objects   objectstore.Store
	Splitter  *splitter.Splitter
	Embedder  embedding.Embedder
	Index     index.Repository
	Locker    lease.Locker
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine runs Sync.
type Engine struct {
	docs      document.Store
	catalog   document.Catalog
	objects   objectstore.Store
	splitter  *splitter.Splitter
	embedder  embedding.Embedder
	index     index.Repository
	locker    lease.Locker
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	workers  int
	maxBytes int64
	timeout  time.Duration
	newBack  func() backoff.BackOff
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets how many documents are downloaded and written concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMaxDocumentBytes caps downloaded document size. Larger documents fail.
func WithMaxDocumentBytes(n int64) Option {
	return func(e *Engine) { e.maxBytes = n }
}

// WithTimeout bounds every Sync call. Zero leaves only the caller's deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithDownloadBackOff sets the retry policy for object store downloads.
func WithDownloadBackOff(f func() backoff.BackOff) Option {
	return func(e *Engine) { e.newBack = f }
}

// NewEngine creates an Engine. Every dependency except Publisher, Metrics and
// Logger is required.
func NewEngine(d Deps, opts ...Option) (*Engine, error) {
	switch {
	case d.Documents == nil:
		return nil, errors.New("reconcile: document store is required")
	case d.Catalog == nil:
		return nil, errors.New("reconcile: catalog is required")
	case d.Objects == nil:
		return nil, errors.New("reconcile: object store is required")
	case d.Splitter == nil:
		return nil, errors.New("reconcile: splitter is required")
	case d.Embedder == nil:
		return nil, errors.New("reconcile: embedder is required")
	case d.Index == nil:
		return nil, errors.New("reconcile: index is required")
	case d.Locker == nil:
		return nil, errors.New("reconcile: locker is required")
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	e := &Engine{
		docs:      d.Documents,
		catalog:   d.Catalog,
		objects:   d.Objects,
		splitter:  d.Splitter,
		embedder:  d.Embedder,
		index:     d.Index,
		locker:    d.Locker,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		logger:    d.Logger,
		workers:   DefaultWorkers,
		maxBytes:  DefaultMaxDocumentBytes,
		newBack:   embedding.DefaultBackOff,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Sync reconciles the index with the documents of one collection.
//
// It fails with a not-found error for an unknown collection and with
// lease.ErrHeld when another Sync of the collection is running. If the context
// ends, the lease is lost or an internal invariant breaks, Sync returns the
// partial Result along with the error; documents not yet committed keep their
// status.
func (e *Engine) Sync(ctx context.Context, tenantID, collectionID string) (*Result, error) {
	start := e.now()
	if tenantID == "" || collectionID == "" {
		return nil, errs.Validationf("tenant id and collection id are required")
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	exists, err := e.catalog.CollectionExists(ctx, tenantID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		return nil, document.CollectionNotFound(collectionID)
	}

	held, err := e.locker.Acquire(ctx, lease.Key(tenantID, collectionID))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("Failed to release sync lease", "tenant", tenantID, "collection", collectionID, "error", err)
		}
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-held.Lost():
			cancel(lease.ErrLost)
		case <-ctx.Done():
		}
	}()

	docs, err := e.docs.ListByCollection(ctx, tenantID, collectionID)
	if err != nil {
		return nil, leaseLost(ctx, fmt.Errorf("list documents: %w", err))
	}
	e.logger.Info("Starting sync", "tenant", tenantID, "collection", collectionID, "documents", len(docs))

	run := &syncRun{Result: Result{TenantID: tenantID, CollectionID: collectionID}, lost: held.Lost()}
	err = leaseLost(ctx, e.reconcile(ctx, run, docs))

	run.Duration = e.now().Sub(start)
	e.finish(ctx, run, err)
	if err != nil {
		return &run.Result, err
	}
	return &run.Result, nil
}

// syncRun is the mutable state of one Sync.
type syncRun struct {
	mu sync.Mutex
	Result
	lost <-chan struct{}
}

// leaseLost reports a cancellation caused by losing the lease as lease.ErrLost.
func leaseLost(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, lease.ErrLost) {
		return err
	}
	if cause := context.Cause(ctx); errors.Is(cause, lease.ErrLost) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

func (r *syncRun) fail(doc document.Document, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = append(r.Failed, FailedDocument{DocumentID: doc.ID, Name: doc.Name, Reason: err.Error()})
}

func (r *syncRun) committed(doc document.Document, chunks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Chunks += chunks
	if doc.Status == document.StatusUpdated {
		r.Updated++
	} else {
		r.Added++
	}
}

func (e *Engine) reconcile(ctx context.Context, run *syncRun, docs []document.Document) error {
	var queue []document.Document
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch doc.Status {
		case document.StatusEmbedded:
		case document.StatusDeleted:
			if err := e.remove(ctx, doc); err != nil {
				if fatal(ctx, err) {
					return err
				}
				e.logger.Warn("Failed to remove document", "document", doc.ID, "error", err)
				run.fail(doc, err)
				continue
			}
			run.Deleted++
		case document.StatusPending, document.StatusUpdated:
			queue = append(queue, doc)
		default:
			return errs.Consistencyf("document %s has unknown status %q", doc.ID, doc.Status)
		}
	}
	if len(queue) == 0 {
		return nil
	}
	return e.indexDocuments(ctx, run, queue)
}

// remove deletes the chunks of a deleted document, then the document itself.
func (e *Engine) remove(ctx context.Context, doc document.Document) error {
	if err := e.index.DeleteByScope(ctx, doc.TenantID, index.Scope{DocumentID: doc.ID}); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := e.docs.Delete(ctx, doc.TenantID, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// fatal reports whether err must abort the whole Sync instead of skipping
// one document.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, errs.ErrConsistency) || errors.Is(err, lease.ErrLost) || ctx.Err() != nil
}

func (e *Engine) finish(ctx context.Context, run *syncRun, err error) {
	r := &run.Result
	e.metrics.ObserveSync(r.Added, r.Deleted, r.Updated, len(r.Failed), r.Duration)

	attrs := []any{
		"tenant", r.TenantID,
		"collection", r.CollectionID,
		"added", r.Added,
		"deleted", r.Deleted,
		"updated", r.Updated,
		"chunks", r.Chunks,
		"failed", len(r.Failed),
		"duration", r.Duration,
	}
	if err != nil {
		e.logger.Error("Sync aborted", append(attrs, "error", err)...)
		return
	}
	e.logger.Info("Sync complete", attrs...)

	failed := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		failed[i] = f.DocumentID
	}
	ev := events.SyncCompleted{
		TenantID:     r.TenantID,
		CollectionID: r.CollectionID,
		Added:        r.Added,
		Deleted:      r.Deleted,
		Updated:      r.Updated,
		Failed:       failed,
		Duration:     r.Duration,
		FinishedAt:   e.now().UTC(),
	}
	if err := e.publisher.PublishSyncCompleted(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("Failed to publish sync event", "collection", r.CollectionID, "error", err)
	}
}
