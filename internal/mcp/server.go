package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/ragindex/internal/reconcile"
	"github.com/bull/ragindex/internal/retrieval"
)

// Searcher answers similarity queries.
type Searcher interface {
	Search(ctx context.Context, tenantID string, collectionIDs []string, queryText string, topK int) ([]retrieval.Passage, error)
	DefaultTopK() int
}

// Syncer reconciles collections and reports their index status.
type Syncer interface {
	Sync(ctx context.Context, tenantID, collectionID string) (*reconcile.Result, error)
	Inspect(ctx context.Context, tenantID, collectionID string) (*reconcile.IndexStatus, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Searcher Searcher
	Syncer   Syncer
	Version  string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	impl := &mcp.Implementation{
		Name:    "ragindex",
		Version: version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_passages",
		Description: "Search the indexed documents of one or more collections semantically. Returns the closest passages, most relevant first.",
	}, makeSearchHandler(cfg.Searcher))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_collection",
		Description: "Reconcile a collection with the vector index: index new and updated documents, drop deleted ones.",
	}, makeSyncHandler(cfg.Syncer))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_status",
		Description: "Get the indexing status of a collection: document counts per status, chunk count and whether a sync is due.",
	}, makeStatusHandler(cfg.Syncer))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
