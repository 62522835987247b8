package reconcile

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/index"
	"github.com/bull/ragindex/internal/lease"
	"github.com/bull/ragindex/internal/objectstore"
	"github.com/bull/ragindex/internal/splitter"
)

// preparedDoc is a queued document after download and splitting.
type preparedDoc struct {
	doc     document.Document
	chunks  []splitter.Chunk
	vectors [][]float32
}

func (p *preparedDoc) texts() []string {
	texts := make([]string, len(p.chunks))
	for i, c := range p.chunks {
		texts[i] = c.Text
	}
	return texts
}

// indexDocuments downloads, splits, embeds and commits the queued documents.
func (e *Engine) indexDocuments(ctx context.Context, run *syncRun, queue []document.Document) error {
	prepared, err := e.prepareAll(ctx, run, queue)
	if err != nil {
		return err
	}
	embedded, err := e.embedAll(ctx, run, prepared)
	if err != nil {
		return err
	}
	return e.commitAll(ctx, run, embedded)
}

// prepareAll loads documents concurrently and returns the ones that could be
// split, in queue order.
func (e *Engine) prepareAll(ctx context.Context, run *syncRun, queue []document.Document) ([]*preparedDoc, error) {
	out := make([]*preparedDoc, len(queue))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, doc := range queue {
		g.Go(func() error {
			p, err := e.prepare(gctx, doc)
			if err != nil {
				if fatal(gctx, err) {
					return err
				}
				e.logger.Warn("Failed to prepare document", "document", doc.ID, "error", err)
				run.fail(doc, err)
				return nil
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prepared := out[:0]
	for _, p := range out {
		if p != nil {
			prepared = append(prepared, p)
		}
	}
	return prepared, nil
}

// prepare downloads a document as text and splits it. Blank chunks carry no
// meaning for retrieval and are dropped.
func (e *Engine) prepare(ctx context.Context, doc document.Document) (*preparedDoc, error) {
	data, err := e.download(ctx, doc.StorageURI)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, errs.Validationf("document %s is not valid UTF-8 text", doc.ID)
	}

	p := &preparedDoc{doc: doc}
	for _, c := range e.splitter.Split(string(data)) {
		if strings.TrimSpace(c.Text) != "" {
			p.chunks = append(p.chunks, c)
		}
	}
	e.logger.Debug("Chunked document", "document", doc.ID, "bytes", len(data), "chunks", len(p.chunks))
	return p, nil
}

// download reads an object, retrying transient failures with backoff.
func (e *Engine) download(ctx context.Context, remotePath string) ([]byte, error) {
	var data []byte
	operation := func() error {
		b, err := objectstore.ReadAll(ctx, e.objects, remotePath, e.maxBytes)
		if err != nil {
			if errs.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		data = b
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(e.newBack(), ctx)); err != nil {
		return nil, fmt.Errorf("download %s: %w", remotePath, err)
	}
	return data, nil
}

// embedAll embeds every chunk of every prepared document in one batched call.
// If the batch fails, each document is embedded on its own so one bad document
// does not fail the rest.
func (e *Engine) embedAll(ctx context.Context, run *syncRun, prepared []*preparedDoc) ([]*preparedDoc, error) {
	var texts []string
	for _, p := range prepared {
		texts = append(texts, p.texts()...)
	}
	if len(texts) == 0 {
		return prepared, nil
	}

	vectors, err := e.embedder.EmbedMany(ctx, texts)
	if err == nil {
		if len(vectors) != len(texts) {
			return nil, errs.Consistencyf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}
		offset := 0
		for _, p := range prepared {
			p.vectors = vectors[offset : offset+len(p.chunks)]
			offset += len(p.chunks)
		}
		return prepared, nil
	}
	if fatal(ctx, err) {
		return nil, err
	}
	e.logger.Warn("Batch embedding failed, embedding per document", "chunks", len(texts), "error", err)

	embedded := prepared[:0]
	for _, p := range prepared {
		if len(p.chunks) == 0 {
			embedded = append(embedded, p)
			continue
		}
		vectors, err := e.embedder.EmbedMany(ctx, p.texts())
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			e.logger.Warn("Failed to embed document", "document", p.doc.ID, "error", err)
			run.fail(p.doc, fmt.Errorf("embed: %w", err))
			continue
		}
		if len(vectors) != len(p.chunks) {
			return nil, errs.Consistencyf("embedder returned %d vectors for %d chunks", len(vectors), len(p.chunks))
		}
		p.vectors = vectors
		embedded = append(embedded, p)
	}
	return embedded, nil
}

// commitAll writes each document's chunks and marks it embedded.
func (e *Engine) commitAll(ctx context.Context, run *syncRun, embedded []*preparedDoc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, p := range embedded {
		g.Go(func() error {
			n, err := e.commit(gctx, run.lost, p)
			if err != nil {
				if fatal(gctx, err) {
					return err
				}
				e.logger.Warn("Failed to commit document", "document", p.doc.ID, "error", err)
				run.fail(p.doc, err)
				return nil
			}
			run.committed(p.doc, n)
			return nil
		})
	}
	return g.Wait()
}

// commit replaces the document's chunks with a new generation and only then
// moves the document to embedded. Any earlier generation, including chunks
// left behind by an interrupted Sync, is removed first, so the index never
// holds two generations of the same document. Nothing is written or marked
// embedded once lost is closed.
func (e *Engine) commit(ctx context.Context, lost <-chan struct{}, p *preparedDoc) (int, error) {
	doc := p.doc
	if err := leaseHeld(lost); err != nil {
		return 0, err
	}
	if err := e.index.DeleteByScope(ctx, doc.TenantID, index.Scope{DocumentID: doc.ID}); err != nil {
		return 0, fmt.Errorf("delete previous chunks: %w", err)
	}

	if len(p.chunks) > 0 {
		createdAt := e.now().UTC()
		records := make([]index.Record, len(p.chunks))
		for i, c := range p.chunks {
			records[i] = index.Record{
				ID:           uuid.NewString(),
				TenantID:     doc.TenantID,
				DocumentID:   doc.ID,
				CategoryID:   doc.CategoryID,
				CollectionID: doc.CollectionID,
				Position:     c.Index,
				Content:      c.Text,
				Vector:       p.vectors[i],
				CreatedAt:    createdAt,
			}
		}

		ids, err := e.index.Insert(ctx, doc.TenantID, records)
		if err != nil {
			// Drop whatever part of the generation made it in.
			if derr := e.index.DeleteByScope(context.WithoutCancel(ctx), doc.TenantID, index.Scope{DocumentID: doc.ID}); derr != nil {
				e.logger.Error("Failed to remove partial chunks", "document", doc.ID, "error", derr)
			}
			return 0, fmt.Errorf("insert chunks: %w", err)
		}
		if len(ids) != len(records) {
			return 0, errs.Consistencyf("index stored %d of %d chunks for document %s", len(ids), len(records), doc.ID)
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := leaseHeld(lost); err != nil {
		return 0, err
	}
	if err := e.docs.TransitionStatus(ctx, doc.TenantID, doc.ID, doc.Version(), document.StatusEmbedded); err != nil {
		return 0, fmt.Errorf("mark embedded: %w", err)
	}
	return len(p.chunks), nil
}

func leaseHeld(lost <-chan struct{}) error {
	select {
	case <-lost:
		return lease.ErrLost
	default:
		return nil
	}
}
