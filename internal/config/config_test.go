package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragindex/internal/errs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RAGINDEX_OBJECTSTORE_SIGNING_KEY", "k")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, IndexChromem, cfg.Index.Backend)
	assert.Equal(t, "data/index", cfg.Index.ChromemPath)
	assert.Equal(t, ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 200, cfg.Splitter.ChunkSize)
	assert.Equal(t, 50, cfg.Splitter.ChunkOverlap)
	assert.Equal(t, TokenizerApprox, cfg.Splitter.Tokenizer)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, LeaseLocal, cfg.Sync.Lease)
	assert.Equal(t, 2*time.Minute, cfg.Sync.LeaseTTL)
	assert.Equal(t, 20, cfg.Retrieval.TopK)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "k", cfg.ObjectStore.SigningKey.Value())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
index:
  backend: qdrant
  qdrant_host: qdrant.internal
  qdrant_port: 6334
embedding:
  provider: hash
  dimension: 64
splitter:
  chunk_size: 120
  chunk_overlap: 20
objectstore:
  signing_key: from-file
sync:
  timeout: 5m
  workers: 2
`)
	t.Setenv("RAGINDEX_SPLITTER_CHUNK_SIZE", "300")
	t.Setenv("RAGINDEX_SYNC_TIMEOUT", "90s")
	t.Setenv("RAGINDEX_EMBEDDING_REQUESTS_PER_SECOND", "2.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, IndexQdrant, cfg.Index.Backend)
	assert.Equal(t, "qdrant.internal", cfg.Index.QdrantHost)
	assert.Equal(t, ProviderHash, cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.Dimension)
	assert.Equal(t, 300, cfg.Splitter.ChunkSize)
	assert.Equal(t, 20, cfg.Splitter.ChunkOverlap)
	assert.Equal(t, 90*time.Second, cfg.Sync.Timeout)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.InDelta(t, 2.5, cfg.Embedding.RequestsPerSecond, 1e-9)
	assert.Equal(t, "from-file", cfg.ObjectStore.SigningKey.Value())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
index:
  backend: pinecone
splitter:
  chunk_size: 10
  chunk_overlap: 10
sync:
  lease: nats
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
	for _, want := range []string{
		"index.backend",
		"splitter.chunk_overlap",
		"objectstore.signing_key",
		"nats.url",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_ProviderRequirements(t *testing.T) {
	base := func() *Config {
		cfg := &Config{ObjectStore: ObjectStoreConfig{SigningKey: "k"}}
		ApplyDefaults(cfg)
		return cfg
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Embedding.Provider = ProviderAzure
	assert.ErrorContains(t, cfg.Validate(), "embedding.azure_endpoint")

	cfg = base()
	cfg.Embedding.Provider = ProviderCompatible
	assert.ErrorContains(t, cfg.Validate(), "embedding.base_url")

	cfg = base()
	cfg.ObjectStore.Backend = ObjectStoreGitHub
	assert.ErrorContains(t, cfg.Validate(), "objectstore.github_owner")

	cfg = base()
	cfg.Retrieval.TopK = 500
	assert.ErrorContains(t, cfg.Validate(), "retrieval.top_k")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"RAGINDEX_SPLITTER_CHUNK_SIZE":    "splitter.chunk_size",
		"RAGINDEX_NATS_URL":               "nats.url",
		"RAGINDEX_INDEX_QDRANT_API_KEY":   "index.qdrant_api_key",
		"RAGINDEX_OBJECTSTORE_PUBLIC_URL": "objectstore.public_url",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	var decoded Secret
	require.NoError(t, decoded.UnmarshalText([]byte("sk-live-123")))
	assert.Equal(t, s, decoded)

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}
