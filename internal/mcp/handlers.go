package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/ragindex/internal/document"
)

// makeSearchHandler creates the search_passages tool handler.
// Only a missing top_k falls back to the server default. An explicit value,
// zero included, is passed on for the retrieval service to validate.
func makeSearchHandler(searcher Searcher) func(
	context.Context, *mcp.CallToolRequest, SearchPassagesInput,
) (*mcp.CallToolResult, SearchPassagesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchPassagesInput) (
		*mcp.CallToolResult, SearchPassagesOutput, error,
	) {
		topK := searcher.DefaultTopK()
		if input.TopK != nil {
			topK = *input.TopK
		}

		passages, err := searcher.Search(ctx, input.TenantID, input.CollectionIDs, input.Query, topK)
		if err != nil {
			return nil, SearchPassagesOutput{}, fmt.Errorf("search failed: %w", err)
		}

		if len(passages) == 0 {
			return nil, SearchPassagesOutput{
				Passages: []Passage{},
				Message:  "No matching passages found. Try broader search terms or run sync_collection.",
			}, nil
		}

		out := make([]Passage, len(passages))
		for i, p := range passages {
			out[i] = Passage{
				DocumentID:   p.DocumentID,
				CollectionID: p.CollectionID,
				Position:     p.Position,
				Content:      p.Content,
				Distance:     p.Distance,
			}
		}
		return nil, SearchPassagesOutput{Passages: out}, nil
	}
}

// makeSyncHandler creates the sync_collection tool handler.
func makeSyncHandler(syncer Syncer) func(
	context.Context, *mcp.CallToolRequest, SyncCollectionInput,
) (*mcp.CallToolResult, SyncCollectionOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SyncCollectionInput) (
		*mcp.CallToolResult, SyncCollectionOutput, error,
	) {
		res, err := syncer.Sync(ctx, input.TenantID, input.CollectionID)
		if err != nil {
			return nil, SyncCollectionOutput{}, fmt.Errorf("sync failed: %w", err)
		}

		failed := make([]FailedDocument, len(res.Failed))
		for i, f := range res.Failed {
			failed[i] = FailedDocument{DocumentID: f.DocumentID, Name: f.Name, Reason: f.Reason}
		}
		return nil, SyncCollectionOutput{
			Added:      res.Added,
			Deleted:    res.Deleted,
			Updated:    res.Updated,
			Chunks:     res.Chunks,
			Failed:     failed,
			DurationMS: res.Duration.Milliseconds(),
		}, nil
	}
}

// makeStatusHandler creates the index_status tool handler.
func makeStatusHandler(syncer Syncer) func(
	context.Context, *mcp.CallToolRequest, IndexStatusInput,
) (*mcp.CallToolResult, IndexStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IndexStatusInput) (
		*mcp.CallToolResult, IndexStatusOutput, error,
	) {
		status, err := syncer.Inspect(ctx, input.TenantID, input.CollectionID)
		if err != nil {
			return nil, IndexStatusOutput{}, fmt.Errorf("status failed: %w", err)
		}

		docs := make(map[string]int, len(document.Statuses))
		for _, st := range document.Statuses {
			docs[string(st)] = status.Documents[st]
		}

		out := IndexStatusOutput{
			Documents: docs,
			Chunks:    status.Chunks,
			Pending:   status.Pending(),
		}
		if out.Pending > 0 {
			out.StaleWarning = fmt.Sprintf("%d documents are waiting for a sync. Run sync_collection.", out.Pending)
		}
		return nil, out, nil
	}
}
