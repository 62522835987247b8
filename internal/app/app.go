// Package app builds every ragindex component from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bull/ragindex/internal/config"
	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/embedding"
	"github.com/bull/ragindex/internal/events"
	"github.com/bull/ragindex/internal/index"
	chromemindex "github.com/bull/ragindex/internal/index/chromem"
	qdrantindex "github.com/bull/ragindex/internal/index/qdrant"
	"github.com/bull/ragindex/internal/ingest"
	"github.com/bull/ragindex/internal/lease"
	"github.com/bull/ragindex/internal/metrics"
	"github.com/bull/ragindex/internal/objectstore"
	"github.com/bull/ragindex/internal/reconcile"
	"github.com/bull/ragindex/internal/retrieval"
	"github.com/bull/ragindex/internal/splitter"
)

// App owns the long-lived components. Close releases them.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Store     *document.SQLStore
	Objects   objectstore.Store
	Index     index.Repository
	Embedder  embedding.Embedder
	Engine    *reconcile.Engine
	Retrieval *retrieval.Service
	Ingest    *ingest.Service

	nc      *nats.Conn
	closers []func() error
}

// New builds an App. On error every component opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	a.Store, err = document.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	if a.Objects, err = newObjectStore(cfg.ObjectStore); err != nil {
		return nil, err
	}

	if a.Index, err = newIndex(ctx, cfg, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Index.Close)

	if a.Embedder, err = NewEmbedder(cfg.Embedding, a.Metrics, logger); err != nil {
		return nil, err
	}

	split, err := newSplitter(cfg.Splitter)
	if err != nil {
		return nil, err
	}

	if cfg.NATS.URL != "" {
		a.nc, err = nats.Connect(cfg.NATS.URL, nats.Name("ragindex"))
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.closers = append(a.closers, func() error { a.nc.Close(); return nil })
	}

	locker, err := a.newLocker(cfg.Sync)
	if err != nil {
		return nil, err
	}
	var publisher events.Publisher = events.Nop{}
	if a.nc != nil {
		publisher = events.NewNATSPublisher(a.nc, cfg.NATS.Subject)
	}

	a.Engine, err = reconcile.NewEngine(reconcile.Deps{
		Documents: a.Store,
		Catalog:   a.Store,
		Objects:   a.Objects,
		Splitter:  split,
		Embedder:  a.Embedder,
		Index:     a.Index,
		Locker:    locker,
		Publisher: publisher,
		Metrics:   a.Metrics,
		Logger:    logger,
	},
		reconcile.WithWorkers(cfg.Sync.Workers),
		reconcile.WithTimeout(cfg.Sync.Timeout),
		reconcile.WithMaxDocumentBytes(cfg.Sync.MaxDocumentBytes),
	)
	if err != nil {
		return nil, err
	}

	a.Retrieval = retrieval.NewService(a.Store, a.Embedder, a.Index,
		retrieval.WithDefaultTopK(cfg.Retrieval.TopK),
		retrieval.WithMaxTopK(cfg.Retrieval.MaxTopK),
		retrieval.WithMetrics(a.Metrics),
		retrieval.WithLogger(logger),
	)
	a.Ingest = ingest.NewService(a.Store, a.Objects, cfg.ObjectStore.MaxUploadBytes, logger)

	logger.Info("Initialized ragindex",
		"index", cfg.Index.Backend,
		"embedding", cfg.Embedding.Provider,
		"dimension", cfg.Embedding.Dimension,
		"objectstore", cfg.ObjectStore.Backend,
		"lease", cfg.Sync.Lease)
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Health checks the document store. It backs the /health endpoint.
func (a *App) Health(ctx context.Context) error {
	return a.Store.Health(ctx)
}

// LocalObjects returns the local object store, or nil for other backends.
// Only local stores need the server to serve signed downloads.
func (a *App) LocalObjects() *objectstore.LocalStore {
	local, _ := a.Objects.(*objectstore.LocalStore)
	return local
}

func newObjectStore(cfg config.ObjectStoreConfig) (objectstore.Store, error) {
	switch cfg.Backend {
	case config.ObjectStoreGitHub:
		client, err := objectstore.NewGitHubClient(cfg.GitHubToken.Value())
		if err != nil {
			return nil, fmt.Errorf("create github client: %w", err)
		}
		return objectstore.NewGitHubStore(client, objectstore.GitHubConfig{
			Owner:    cfg.GitHubOwner,
			Repo:     cfg.GitHubRepo,
			Branch:   cfg.GitHubBranch,
			BasePath: cfg.GitHubBasePath,
			Token:    cfg.GitHubToken.Value(),
		})
	default:
		return objectstore.NewLocalStore(cfg.Root, cfg.PublicURL, []byte(cfg.SigningKey.Value()))
	}
}

func newIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (index.Repository, error) {
	switch cfg.Index.Backend {
	case config.IndexQdrant:
		return qdrantindex.New(ctx, qdrantindex.Config{
			Host:       cfg.Index.QdrantHost,
			Port:       cfg.Index.QdrantPort,
			APIKey:     cfg.Index.QdrantAPIKey.Value(),
			UseTLS:     cfg.Index.QdrantTLS,
			Collection: cfg.Index.Collection,
			Dimension:  cfg.Embedding.Dimension,
		}, logger)
	default:
		return chromemindex.New(chromemindex.Config{
			Path:       cfg.Index.ChromemPath,
			Compress:   cfg.Index.ChromemCompress,
			Collection: cfg.Index.Collection,
			Dimension:  cfg.Embedding.Dimension,
		}, logger)
	}
}

// NewEmbedder builds the configured provider behind a BatchEmbedder.
func NewEmbedder(cfg config.EmbeddingConfig, m *metrics.Metrics, logger *slog.Logger) (embedding.Embedder, error) {
	var provider embedding.Provider
	switch cfg.Provider {
	case config.ProviderHash:
		provider = embedding.NewHashProvider(cfg.Dimension)
	case config.ProviderCompatible:
		p, err := embedding.NewCompatibleProvider(cfg.BaseURL, cfg.Model, cfg.APIKey.Value())
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		client, err := embedding.NewClient(embedding.ClientConfig{
			APIKey:          cfg.APIKey.Value(),
			BaseURL:         cfg.BaseURL,
			AzureEndpoint:   cfg.AzureEndpoint,
			AzureAPIVersion: cfg.AzureAPIVersion,
		})
		if err != nil {
			return nil, err
		}
		provider = embedding.NewOpenAIProvider(client, cfg.Model, cfg.Dimension)
	}

	opts := []embedding.Option{
		embedding.WithBatchSize(cfg.BatchSize),
		embedding.WithLogger(logger),
	}
	if m != nil {
		opts = append(opts, embedding.WithObserver(m))
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, embedding.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst))
	}
	return embedding.NewBatchEmbedder(provider, cfg.Dimension, opts...), nil
}

func newSplitter(cfg config.SplitterConfig) (*splitter.Splitter, error) {
	opts := []splitter.Option{
		splitter.WithChunkSize(cfg.ChunkSize),
		splitter.WithChunkOverlap(cfg.ChunkOverlap),
	}
	if cfg.Tokenizer == config.TokenizerTiktoken {
		counter, err := splitter.NewTiktokenCounter(cfg.Encoding)
		if err != nil {
			return nil, err
		}
		opts = append(opts, splitter.WithTokenCounter(counter))
	}
	return splitter.New(opts...)
}

func (a *App) newLocker(cfg config.SyncConfig) (lease.Locker, error) {
	if cfg.Lease == config.LeaseNATS {
		if a.nc == nil {
			return nil, errors.New("nats lease needs nats.url")
		}
		return lease.NewNATSLocker(a.nc, cfg.LeaseBucket, cfg.LeaseTTL, a.Logger)
	}
	return lease.NewLocalLocker(), nil
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
