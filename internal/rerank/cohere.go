package rerank

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/option"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

const ProviderCohere = "cohere"

var errMissingKey = errors.New("cohere key not configured")

// Cohere ranks documents with the Cohere v2 rerank API.
type Cohere struct {
	apiKey string
	model  string
	client *cohereclient.Client
}

func NewCohere(cfg *config.RerankerConfig) *Cohere {
	return &Cohere{
		apiKey: cfg.Key,
		model:  cfg.Model,
		client: cohereclient.NewClient(
			option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
			option.WithToken(cfg.Key),
			option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
			// failures fall back to the raw order without retrying
			option.WithMaxAttempts(1),
		),
	}
}

func (c *Cohere) Name() string { return ProviderCohere }

// Rerank returns the indices into documents of the topN most relevant ones,
// most relevant first.
func (c *Cohere) Rerank(ctx context.Context, query string, documents []string, topN int) ([]int, error) {
	const op = "rerank.Cohere"

	if c.apiKey == "" {
		return nil, models.NewError(models.KindRerank, op, errMissingKey)
	}
	if len(documents) == 0 {
		return []int{}, nil
	}

	resp, err := c.client.V2.Rerank(ctx, &cohere.V2RerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      &topN,
	})
	if err != nil {
		return nil, models.NewError(models.KindRerank, op, err)
	}

	indices := make([]int, 0, len(resp.Results))
	seen := make(map[int]bool, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil {
			return nil, models.NewError(models.KindRerank, op, errors.New("empty result entry"))
		}
		if r.Index < 0 || r.Index >= len(documents) || seen[r.Index] {
			return nil, models.NewError(models.KindRerank, op, fmt.Errorf("invalid result index %d for %d documents", r.Index, len(documents)))
		}
		seen[r.Index] = true
		indices = append(indices, r.Index)
	}
	if len(indices) > topN {
		indices = indices[:topN]
	}
	return indices, nil
}
