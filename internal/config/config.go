// Package config holds the static configuration of ragindex.
//
// Every component choice (index backend, embedding provider, object store,
// lease backend) is an explicit field here; there is no dynamic wiring.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/bull/ragindex/internal/embedding"
	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/splitter"
)

// Index backends.
const (
	IndexChromem = "chromem"
	IndexQdrant  = "qdrant"
)

// Embedding providers.
const (
	ProviderOpenAI     = "openai"
	ProviderAzure      = "azure"
	ProviderCompatible = "compatible"
	ProviderHash       = "hash"
)

// Object store backends.
const (
	ObjectStoreLocal  = "local"
	ObjectStoreGitHub = "github"
)

// Lease backends.
const (
	LeaseLocal = "local"
	LeaseNATS  = "nats"
)

// Tokenizers.
const (
	TokenizerApprox   = "approx"
	TokenizerTiktoken = "tiktoken"
)

// Config is the complete ragindex configuration.
type Config struct {
	Store       StoreConfig       `koanf:"store"`
	Index       IndexConfig       `koanf:"index"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	Splitter    SplitterConfig    `koanf:"splitter"`
	ObjectStore ObjectStoreConfig `koanf:"objectstore"`
	Sync        SyncConfig        `koanf:"sync"`
	NATS        NATSConfig        `koanf:"nats"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
}

// StoreConfig locates the SQLite document store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// IndexConfig selects the vector index.
type IndexConfig struct {
	Backend         string `koanf:"backend"`
	Collection      string `koanf:"collection"`
	QdrantHost      string `koanf:"qdrant_host"`
	QdrantPort      int    `koanf:"qdrant_port"`
	QdrantAPIKey    Secret `koanf:"qdrant_api_key"`
	QdrantTLS       bool   `koanf:"qdrant_tls"`
	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider          string  `koanf:"provider"`
	Model             string  `koanf:"model"`
	Dimension         int     `koanf:"dimension"`
	BatchSize         int     `koanf:"batch_size"`
	BaseURL           string  `koanf:"base_url"`
	APIKey            Secret  `koanf:"api_key"`
	AzureEndpoint     string  `koanf:"azure_endpoint"`
	AzureAPIVersion   string  `koanf:"azure_api_version"`
	RequestsPerSecond float64 `koanf:"requests_per_second"` // 0 disables rate limiting
	Burst             int     `koanf:"burst"`
}

// SplitterConfig sizes chunks.
type SplitterConfig struct {
	ChunkSize    int    `koanf:"chunk_size"`
	ChunkOverlap int    `koanf:"chunk_overlap"`
	Tokenizer    string `koanf:"tokenizer"`
	Encoding     string `koanf:"encoding"`
}

// ObjectStoreConfig selects where uploaded files live.
type ObjectStoreConfig struct {
	Backend        string `koanf:"backend"`
	Root           string `koanf:"root"`
	PublicURL      string `koanf:"public_url"`
	SigningKey     Secret `koanf:"signing_key"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
	GitHubOwner    string `koanf:"github_owner"`
	GitHubRepo     string `koanf:"github_repo"`
	GitHubBranch   string `koanf:"github_branch"`
	GitHubBasePath string `koanf:"github_base_path"`
	GitHubToken    Secret `koanf:"github_token"`
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	Workers          int           `koanf:"workers"`
	Timeout          time.Duration `koanf:"timeout"`
	MaxDocumentBytes int64         `koanf:"max_document_bytes"`
	Lease            string        `koanf:"lease"`
	LeaseTTL         time.Duration `koanf:"lease_ttl"`
	LeaseBucket      string        `koanf:"lease_bucket"`
}

// NATSConfig connects to NATS for leases and sync events. An empty URL
// disables event publishing.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// RetrievalConfig bounds search result sizes.
type RetrievalConfig struct {
	TopK    int `koanf:"top_k"`
	MaxTopK int `koanf:"max_top_k"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MCPStateless    bool          `koanf:"mcp_stateless"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ApplyDefaults sets default values for missing configuration fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/ragindex.db"
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = IndexChromem
	}
	if cfg.Index.Backend == IndexChromem && cfg.Index.ChromemPath == "" {
		cfg.Index.ChromemPath = "data/index"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "ragindex_chunks"
	}
	if cfg.Index.QdrantHost == "" {
		cfg.Index.QdrantHost = "localhost"
	}
	if cfg.Index.QdrantPort == 0 {
		cfg.Index.QdrantPort = 6334
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = embedding.DefaultModel
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = embedding.DefaultDimension
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = embedding.DefaultBatchSize
	}

	if cfg.Splitter.ChunkSize == 0 {
		cfg.Splitter.ChunkSize = splitter.DefaultChunkSize
		if cfg.Splitter.ChunkOverlap == 0 {
			cfg.Splitter.ChunkOverlap = splitter.DefaultChunkOverlap
		}
	}
	if cfg.Splitter.Tokenizer == "" {
		cfg.Splitter.Tokenizer = TokenizerApprox
	}
	if cfg.Splitter.Encoding == "" {
		cfg.Splitter.Encoding = "cl100k_base"
	}

	if cfg.ObjectStore.Backend == "" {
		cfg.ObjectStore.Backend = ObjectStoreLocal
	}
	if cfg.ObjectStore.Root == "" {
		cfg.ObjectStore.Root = "data/objects"
	}
	if cfg.ObjectStore.PublicURL == "" {
		cfg.ObjectStore.PublicURL = "http://localhost:8080"
	}
	if cfg.ObjectStore.MaxUploadBytes == 0 {
		cfg.ObjectStore.MaxUploadBytes = 10 << 20
	}
	if cfg.ObjectStore.GitHubBranch == "" {
		cfg.ObjectStore.GitHubBranch = "main"
	}

	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = 30 * time.Minute
	}
	if cfg.Sync.MaxDocumentBytes == 0 {
		cfg.Sync.MaxDocumentBytes = 10 << 20
	}
	if cfg.Sync.Lease == "" {
		cfg.Sync.Lease = LeaseLocal
	}
	if cfg.Sync.LeaseTTL == 0 {
		cfg.Sync.LeaseTTL = 2 * time.Minute
	}
	if cfg.Sync.LeaseBucket == "" {
		cfg.Sync.LeaseBucket = "ragindex_sync_leases"
	}

	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "ragindex.sync.completed"
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 20
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 100
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	switch c.Index.Backend {
	case IndexChromem:
	case IndexQdrant:
		if c.Index.QdrantPort <= 0 || c.Index.QdrantPort > 65535 {
			add("index.qdrant_port must be between 1 and 65535, got %d", c.Index.QdrantPort)
		}
	default:
		add("index.backend must be %q or %q, got %q", IndexChromem, IndexQdrant, c.Index.Backend)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderHash:
	case ProviderAzure:
		if c.Embedding.AzureEndpoint == "" {
			add("embedding.azure_endpoint is required for the azure provider")
		}
	case ProviderCompatible:
		if c.Embedding.BaseURL == "" {
			add("embedding.base_url is required for the compatible provider")
		}
	default:
		add("embedding.provider must be one of openai, azure, compatible, hash, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		add("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		add("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.RequestsPerSecond < 0 {
		add("embedding.requests_per_second must not be negative")
	}

	if c.Splitter.ChunkSize <= 0 {
		add("splitter.chunk_size must be positive, got %d", c.Splitter.ChunkSize)
	}
	if c.Splitter.ChunkOverlap < 0 || c.Splitter.ChunkOverlap >= c.Splitter.ChunkSize {
		add("splitter.chunk_overlap must be in [0, chunk_size), got %d", c.Splitter.ChunkOverlap)
	}
	if c.Splitter.Tokenizer != TokenizerApprox && c.Splitter.Tokenizer != TokenizerTiktoken {
		add("splitter.tokenizer must be %q or %q, got %q", TokenizerApprox, TokenizerTiktoken, c.Splitter.Tokenizer)
	}

	switch c.ObjectStore.Backend {
	case ObjectStoreLocal:
		if !c.ObjectStore.SigningKey.IsSet() {
			add("objectstore.signing_key is required for the local object store")
		}
	case ObjectStoreGitHub:
		if c.ObjectStore.GitHubOwner == "" || c.ObjectStore.GitHubRepo == "" {
			add("objectstore.github_owner and objectstore.github_repo are required for the github object store")
		}
	default:
		add("objectstore.backend must be %q or %q, got %q", ObjectStoreLocal, ObjectStoreGitHub, c.ObjectStore.Backend)
	}

	if c.Sync.Workers <= 0 {
		add("sync.workers must be positive, got %d", c.Sync.Workers)
	}
	if c.Sync.Timeout < 0 {
		add("sync.timeout must not be negative")
	}
	switch c.Sync.Lease {
	case LeaseLocal:
	case LeaseNATS:
		if c.NATS.URL == "" {
			add("nats.url is required for the nats lease")
		}
		if c.Sync.LeaseTTL <= 0 {
			add("sync.lease_ttl must be positive")
		}
	default:
		add("sync.lease must be %q or %q, got %q", LeaseLocal, LeaseNATS, c.Sync.Lease)
	}

	if c.Retrieval.TopK <= 0 {
		add("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MaxTopK > 0 && c.Retrieval.TopK > c.Retrieval.MaxTopK {
		add("retrieval.top_k %d exceeds retrieval.max_top_k %d", c.Retrieval.TopK, c.Retrieval.MaxTopK)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errs.ErrValidation, errors.Join(problems...))
}
