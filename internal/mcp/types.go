// Package mcp exposes search, sync and index status as MCP tools.
package mcp

// SearchPassagesInput defines the input parameters for the search_passages tool.
type SearchPassagesInput struct {
	// TenantID is the organization whose collections are searched.
	TenantID string `json:"tenant_id" jsonschema:"The organization id owning the collections"`
	// CollectionIDs scopes the search. At least one is required.
	CollectionIDs []string `json:"collection_ids" jsonschema:"Collections to search, at least one"`
	// Query is the natural language search query.
	Query string `json:"query" jsonschema:"The natural language query"`
	// TopK is the maximum number of passages to return; nil means the server default.
	TopK *int `json:"top_k,omitempty" jsonschema:"Maximum number of passages to return, defaults to the server setting"`
}

// SearchPassagesOutput contains the search results.
type SearchPassagesOutput struct {
	Passages []Passage `json:"passages"`
	// Message provides informational context (e.g., "No matching passages found").
	Message string `json:"message,omitempty"`
}

// Passage is one retrieved chunk. Lower distance means more relevant.
type Passage struct {
	DocumentID   string  `json:"document_id"`
	CollectionID string  `json:"collection_id"`
	Position     int     `json:"position"`
	Content      string  `json:"content"`
	Distance     float64 `json:"distance"`
}

// SyncCollectionInput defines the input parameters for the sync_collection tool.
type SyncCollectionInput struct {
	TenantID     string `json:"tenant_id" jsonschema:"The organization id owning the collection"`
	CollectionID string `json:"collection_id" jsonschema:"The collection to reconcile with the index"`
}

// SyncCollectionOutput reports what a sync changed.
type SyncCollectionOutput struct {
	Added      int              `json:"added"`
	Deleted    int              `json:"deleted"`
	Updated    int              `json:"updated"`
	Chunks     int              `json:"chunks"`
	Failed     []FailedDocument `json:"failed"`
	DurationMS int64            `json:"duration_ms"`
}

// FailedDocument is a document the sync skipped; it is retried next time.
type FailedDocument struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
}

// IndexStatusInput defines the input parameters for the index_status tool.
type IndexStatusInput struct {
	TenantID     string `json:"tenant_id" jsonschema:"The organization id owning the collection"`
	CollectionID string `json:"collection_id" jsonschema:"The collection to inspect"`
}

// IndexStatusOutput describes how far a collection is indexed.
type IndexStatusOutput struct {
	Documents map[string]int `json:"documents"`
	Chunks    int            `json:"chunks"`
	// Pending is the number of documents the next sync will act on.
	Pending int `json:"pending"`
	// StaleWarning is set when documents are waiting for a sync.
	StaleWarning string `json:"stale_warning,omitempty"`
}
