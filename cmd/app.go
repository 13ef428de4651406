package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"grounded-rag/internal/chromemdb"
	"grounded-rag/internal/config"
	"grounded-rag/internal/db"
	"grounded-rag/internal/embedding"
	"grounded-rag/internal/filestore"
	"grounded-rag/internal/llmservice"
	"grounded-rag/internal/models"
	"grounded-rag/internal/qdrant"
	"grounded-rag/internal/rag"
	"grounded-rag/internal/rerank"
)

// app holds the wired pipeline and whatever must be closed on exit.
type app struct {
	pipeline *rag.RAG
	index    rag.VectorIndex
	closers  []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
}

// openIndex connects to the configured vector index and makes sure its schema exists.
func openIndex(ctx context.Context, cfg *config.Config) (rag.VectorIndex, func() error, error) {
	var (
		index   rag.VectorIndex
		closeFn = func() error { return nil }
	)
	switch cfg.VectorDB.Provider {
	case "pgvector":
		store, err := db.Open(&cfg.Database, cfg.VectorDB.Dimension)
		if err != nil {
			return nil, nil, err
		}
		index, closeFn = store, store.Close
	case "qdrant":
		store, err := qdrant.NewStorage(&cfg.VectorDB)
		if err != nil {
			return nil, nil, err
		}
		index, closeFn = store, store.Close
	case "chromem":
		manager, err := chromemdb.NewVectorDBManager(&cfg.VectorDB)
		if err != nil {
			return nil, nil, err
		}
		index = manager
	default:
		return nil, nil, models.ConfigurationError("unknown vector_db provider %q", cfg.VectorDB.Provider)
	}

	if err := index.EnsureSchema(ctx); err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	log.Debug().Str("provider", cfg.VectorDB.Provider).Int("dimension", cfg.VectorDB.Dimension).Msg("Vector index ready")
	return index, closeFn, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	index, closeIndex, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{index: index, closers: []func() error{closeIndex}}

	pipeline, err := buildPipeline(ctx, cfg, index)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = pipeline
	return a, nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, index rag.VectorIndex) (*rag.RAG, error) {
	embedder, err := embedding.NewFromConfig(ctx, &cfg.EmbedLLM, cfg.VectorDB.Dimension)
	if err != nil {
		return nil, err
	}

	llm, err := llmservice.NewModel(ctx, &cfg.InferenceLLM)
	if err != nil {
		return nil, err
	}
	verifier, err := llmservice.NewVerifier(llm, cfg.InferenceLLM.Timeout())
	if err != nil {
		return nil, err
	}

	store, err := filestore.NewLocal(cfg.Storage.MediaRoot, cfg.Storage.DocumentsDir)
	if err != nil {
		return nil, err
	}

	deps := rag.Dependencies{
		Embedder:  embedder,
		Index:     index,
		Generator: llmservice.NewGenerator(llm, cfg.InferenceLLM.Temperature, cfg.InferenceLLM.Timeout()),
		Verifier:  verifier,
		Store:     store,
	}
	reranker, err := rerank.New(&cfg.Reranker)
	if err != nil {
		return nil, err
	}
	if reranker != nil {
		deps.Reranker = reranker
	}

	return rag.NewRAG(deps, &cfg.RAG)
}
