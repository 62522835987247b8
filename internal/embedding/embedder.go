// Package embedding turns text into fixed-dimension vectors.
//
// A Provider performs one raw request against a backend. BatchEmbedder wraps a
// Provider with batching, rate limiting, bounded retry and dimension checks,
// and is what the rest of the system depends on through the Embedder interface.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/bull/ragindex/internal/errs"
)

// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
const DefaultBatchSize = 500

// ErrDimensionMismatch is returned when a provider returns vectors of the wrong size.
var ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", errs.ErrConsistency)

// Embedder produces vectors of a single fixed dimension.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedMany preserves input order and length.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Provider performs a single embedding request for a batch of texts.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Observer receives one call per provider request.
type Observer interface {
	ObserveEmbedding(texts int, elapsed time.Duration, err error)
}

// BatchEmbedder implements Embedder on top of a Provider.
type BatchEmbedder struct {
	provider  Provider
	dimension int
	batchSize int
	limiter   *rate.Limiter
	newBack   func() backoff.BackOff
	observer  Observer
	logger    *slog.Logger
}

var _ Embedder = (*BatchEmbedder)(nil)

// Option configures a BatchEmbedder.
type Option func(*BatchEmbedder)

// WithBatchSize sets the maximum number of texts per provider request.
func WithBatchSize(n int) Option {
	return func(e *BatchEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRateLimit caps provider requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *BatchEmbedder) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBackOff sets the retry policy used for transient provider failures.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(e *BatchEmbedder) {
		if newBackOff != nil {
			e.newBack = newBackOff
		}
	}
}

// WithObserver reports every provider request to o.
func WithObserver(o Observer) Option {
	return func(e *BatchEmbedder) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *BatchEmbedder) {
		if l != nil {
			e.logger = l
		}
	}
}

// DefaultBackOff retries with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// NewBatchEmbedder creates an embedder producing vectors of dimension.
func NewBatchEmbedder(p Provider, dimension int, opts ...Option) *BatchEmbedder {
	e := &BatchEmbedder{
		provider:  p,
		dimension: dimension,
		batchSize: DefaultBatchSize,
		newBack:   DefaultBackOff,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dimension returns the vector size every call produces.
func (e *BatchEmbedder) Dimension() int { return e.dimension }

// EmbedOne embeds a single text.
func (e *BatchEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany embeds texts in batches. The result has one vector per text, in input order.
func (e *BatchEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, errs.Validationf("text %d is empty", i)
		}
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		vectors, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

// embedBatchWithRetry retries transient provider failures with backoff.
// Other errors are permanent and fail immediately.
func (e *BatchEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	attempt := 0

	operation := func() error {
		attempt++
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		start := time.Now()
		out, err := e.provider.Embed(ctx, texts)
		if e.observer != nil {
			e.observer.ObserveEmbedding(len(texts), time.Since(start), err)
		}
		if err != nil {
			if errs.IsRetryable(err) {
				e.logger.Debug("Embedding request failed, retrying", "attempt", attempt, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		if err := e.check(texts, out); err != nil {
			return backoff.Permanent(err)
		}
		vectors = out
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(e.newBack(), ctx))
	if err != nil {
		if errs.IsRetryable(err) {
			return nil, fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err)
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		return nil, err
	}
	return vectors, nil
}

func (e *BatchEmbedder) check(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return errs.Consistencyf("provider returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(v), e.dimension)
		}
	}
	return nil
}
