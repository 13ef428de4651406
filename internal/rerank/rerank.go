package rerank

import (
	"context"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

// Reranker orders documents by relevance to a query.
type Reranker interface {
	Name() string
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]int, error)
}

// New returns the configured reranker, or nil when reranking is disabled.
func New(cfg *config.RerankerConfig) (Reranker, error) {
	switch cfg.Provider {
	case ProviderCohere:
		return NewCohere(cfg), nil
	case models.RerankerNone, "":
		return nil, nil
	default:
		return nil, models.ConfigurationError("unknown reranker provider %q", cfg.Provider)
	}
}
