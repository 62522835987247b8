package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/bull/ragindex/internal/errs"
)

// LangchainProvider embeds through any OpenAI-compatible server (TEI, vLLM,
// Ollama) using langchaingo.
type LangchainProvider struct {
	embedder embeddings.Embedder
}

// NewCompatibleProvider builds a langchaingo embedder for baseURL and model.
func NewCompatibleProvider(baseURL, model, token string) (*LangchainProvider, error) {
	if token == "" {
		token = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithEmbeddingModel(model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("create compatible client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &LangchainProvider{embedder: emb}, nil
}

// NewLangchainProvider wraps an existing langchaingo embedder.
func NewLangchainProvider(e embeddings.Embedder) *LangchainProvider {
	return &LangchainProvider{embedder: e}
}

// Embed implements Provider. langchaingo hides HTTP status codes, so every
// failure other than cancellation is treated as transient.
func (p *LangchainProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Transient(err)
	}
	return vectors, nil
}
