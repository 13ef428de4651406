package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

// NewClient creates a langchaingo embedder for the configured provider.
func NewClient(ctx context.Context, llmConfig *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating embedder")

	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch llmConfig.Provider {
	case "ollama":
		client, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithEmbeddingModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		client, err = openai.New(opts...)
	case "googleai":
		client, err = googleai.New(ctx,
			googleai.WithAPIKey(llmConfig.Key),
			googleai.WithDefaultEmbeddingModel(llmConfig.Model),
		)
	default:
		return nil, models.ConfigurationError("unknown embedding provider %q", llmConfig.Provider)
	}
	if err != nil {
		return nil, models.NewError(models.KindEmbedding, "embedding.NewClient", fmt.Errorf("failed to initialise %s client: %w", llmConfig.Provider, err))
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, models.NewError(models.KindEmbedding, "embedding.NewClient", fmt.Errorf("failed to create embedder: %w", err))
	}
	return embedder, nil
}

// Embedder wraps a langchaingo embedder with a per-call timeout, an optional
// rate limit and a dimension check.
type Embedder struct {
	client    embeddings.Embedder
	dimension int
	timeout   time.Duration
	limiter   *rate.Limiter
}

type Option func(*Embedder)

func WithTimeout(d time.Duration) Option {
	return func(e *Embedder) { e.timeout = d }
}

// WithRateLimit caps provider calls at rps per second. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(e *Embedder) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func New(client embeddings.Embedder, dimension int, opts ...Option) *Embedder {
	e := &Embedder{client: client, dimension: dimension}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromConfig builds the client and wraps it in one step.
func NewFromConfig(ctx context.Context, llmConfig *config.LLMConfig, dimension int) (*Embedder, error) {
	client, err := NewClient(ctx, llmConfig)
	if err != nil {
		return nil, err
	}
	return New(client, dimension,
		WithTimeout(llmConfig.Timeout()),
		WithRateLimit(llmConfig.RequestsPerSecond),
	), nil
}

// Embed returns the embedding for text. Every failure is an embedding error.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embedding.Embed"

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, models.NewError(models.KindEmbedding, op, err)
		}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vec, err := e.client.EmbedQuery(ctx, text)
	if err != nil {
		return nil, models.NewError(models.KindEmbedding, op, err)
	}
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, models.NewError(models.KindEmbedding, op,
			fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, len(vec), e.dimension))
	}
	return vec, nil
}
