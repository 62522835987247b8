package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragindex/internal/config"
	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/ingest"
	"github.com/bull/ragindex/internal/lease"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Store:       config.StoreConfig{Path: filepath.Join(dir, "db", "ragindex.db")},
		Index:       config.IndexConfig{ChromemPath: filepath.Join(dir, "index")},
		Embedding:   config.EmbeddingConfig{Provider: config.ProviderHash, Dimension: 64},
		Splitter:    config.SplitterConfig{ChunkSize: 20, ChunkOverlap: 5},
		ObjectStore: config.ObjectStoreConfig{Root: filepath.Join(dir, "objects"), SigningKey: "test-key"},
	}
	config.ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestApp_UploadSyncSearch(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	org, err := a.Store.CreateOrganization(ctx, "acme")
	require.NoError(t, err)
	col, err := a.Store.CreateCollection(ctx, org.ID, "handbook")
	require.NoError(t, err)
	cat, err := a.Store.CreateCategory(ctx, org.ID, col.ID, "policies")
	require.NoError(t, err)

	doc, err := a.Ingest.Upload(ctx, ingest.Upload{
		TenantID:   org.ID,
		CategoryID: cat.ID,
		Filename:   "refunds.md",
		Content:    strings.NewReader("# Refund Policy\n\nRefunds are granted within 30 days of purchase.\n\nShipping is free."),
	})
	require.NoError(t, err)

	res, err := a.Engine.Sync(ctx, org.ID, col.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Empty(t, res.Failed)
	assert.Positive(t, res.Chunks)

	got, err := a.Store.Get(ctx, org.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusEmbedded, got.Status)

	passages, err := a.Retrieval.Search(ctx, org.ID, []string{col.ID}, "refund policy", 2)
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	assert.Equal(t, doc.ID, passages[0].DocumentID)
}

func TestApp_Metrics(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	families, err := a.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}

func TestApp_Health(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	assert.NoError(t, a.Health(context.Background()))
	assert.NotNil(t, a.LocalObjects())
}

func TestApp_NATSLease(t *testing.T) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)

	cfg := testConfig(t)
	cfg.NATS.URL = ns.ClientURL()
	cfg.Sync.Lease = config.LeaseNATS
	require.NoError(t, cfg.Validate())

	a := newTestApp(t, cfg)
	ctx := context.Background()
	org, err := a.Store.CreateOrganization(ctx, "acme")
	require.NoError(t, err)
	col, err := a.Store.CreateCollection(ctx, org.ID, "handbook")
	require.NoError(t, err)

	res, err := a.Engine.Sync(ctx, org.ID, col.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Added)

	// A second engine sharing the bucket sees the lease of a running sync.
	held, err := lease.NewNATSLocker(a.nc, cfg.Sync.LeaseBucket, cfg.Sync.LeaseTTL, nil)
	require.NoError(t, err)
	l, err := held.Acquire(ctx, lease.Key(org.ID, col.ID))
	require.NoError(t, err)
	defer l.Release(ctx) //nolint:errcheck

	_, err = a.Engine.Sync(ctx, org.ID, col.ID)
	assert.ErrorIs(t, err, lease.ErrHeld)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("Shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"Shown"`)
	assert.Contains(t, out, `"key":"value"`)
}

func TestNew_FailsOnBadSplitter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Splitter.ChunkOverlap = cfg.Splitter.ChunkSize

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
