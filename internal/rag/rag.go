package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"grounded-rag/internal/chunker"
	"grounded-rag/internal/config"
	"grounded-rag/internal/filestore"
	"grounded-rag/internal/helper"
	"grounded-rag/internal/models"
	"grounded-rag/internal/parser"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunks and answers nearest-neighbour queries. Upsert
// must be durable when it returns.
type VectorIndex interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, chunks []models.Chunk) error
	Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error)
	Clear(ctx context.Context, hard bool) error
}

// Reranker returns indices into documents, most relevant first.
type Reranker interface {
	Name() string
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]int, error)
}

type Generator interface {
	Generate(ctx context.Context, query string, snippets []models.Candidate) (string, error)
}

type Verifier interface {
	Verify(ctx context.Context, answer string, snippets []models.Candidate) (models.VerificationResult, error)
}

// FileStore keeps artifacts. Save never replaces an existing file and
// returns the path it wrote.
type FileStore interface {
	Save(name string, data []byte) (string, error)
	Resolve(path string) (string, error)
	Exists(path string) bool
	Remove(path string) error
}

// Dependencies are the collaborators of the pipeline. Reranker may be nil.
type Dependencies struct {
	Embedder  Embedder
	Index     VectorIndex
	Reranker  Reranker
	Generator Generator
	Verifier  Verifier
	Parser    parser.Parser
	Store     FileStore
}

type RAG struct {
	deps Dependencies
	cfg  config.RAGConfig
}

func NewRAG(deps Dependencies, cfg *config.RAGConfig) (*RAG, error) {
	switch {
	case deps.Embedder == nil:
		return nil, models.ConfigurationError("embedder is required")
	case deps.Index == nil:
		return nil, models.ConfigurationError("vector index is required")
	case deps.Generator == nil:
		return nil, models.ConfigurationError("generator is required")
	case deps.Verifier == nil:
		return nil, models.ConfigurationError("verifier is required")
	case deps.Store == nil:
		return nil, models.ConfigurationError("file store is required")
	}
	if deps.Parser == nil {
		deps.Parser = parser.TextExtractor{}
	}
	if cfg.RawK < 1 || cfg.FinalN < 1 {
		return nil, models.ConfigurationError("raw_k and final_n must be positive")
	}
	return &RAG{deps: deps, cfg: *cfg}, nil
}

func (r *RAG) chunkOptions(source, title, filePath string) chunker.Options {
	opts := chunker.DefaultOptions(source)
	opts.Title = title
	opts.FilePath = filePath
	if r.cfg.ChunkSize > 0 {
		opts.WindowSize = r.cfg.ChunkSize
		opts.Overlap = r.cfg.ChunkOverlap
	}
	return opts
}

// IngestText stores text as an artifact, chunks it and indexes the chunks
// in one batch.
func (r *RAG) IngestText(ctx context.Context, text string) (models.IngestResult, error) {
	if strings.TrimSpace(text) == "" {
		return models.IngestResult{}, models.ValidationError("No text provided")
	}
	logger := log.With().Str("request_id", helper.RequestID()).Str("op", "ingest_text").Logger()

	path, err := r.deps.Store.Save(fmt.Sprintf("userinput_%d.txt", time.Now().UnixNano()), []byte(text))
	if err != nil {
		return models.IngestResult{}, err
	}

	chunks, err := chunker.Chunk(ctx, text, r.chunkOptions(models.SourceUserInput, "", path), r.deps.Embedder)
	if err != nil {
		return models.IngestResult{}, err
	}
	for i := range chunks {
		chunks[i].Title = fmt.Sprintf("%s %d", models.SourceUserInput, chunks[i].Position)
	}

	if err := r.deps.Index.Upsert(ctx, chunks); err != nil {
		return models.IngestResult{}, err
	}

	logger.Info().Int("chunks", len(chunks)).Str("file_path", path).Msg("Indexed text")
	return models.IngestResult{Chunks: len(chunks), FilePath: path}, nil
}

// IngestDocument stores an uploaded file, extracts its text and indexes it.
// Unsupported formats are rejected before anything is stored. The stored
// file is removed again when its text cannot be extracted.
func (r *RAG) IngestDocument(ctx context.Context, data []byte, fileName string) (models.IngestResult, error) {
	if len(data) == 0 || strings.TrimSpace(fileName) == "" {
		return models.IngestResult{}, models.ValidationError("No file uploaded")
	}
	logger := log.With().Str("request_id", helper.RequestID()).Str("op", "ingest_document").Logger()

	base, err := filestore.CleanName(fileName)
	if err != nil {
		return models.IngestResult{}, err
	}
	ext := parser.ExtOf(base)
	if !parser.IsSupported(ext) {
		logger.Warn().Str("file", base).Msg("Rejected upload with unsupported format")
		return models.IngestResult{}, models.UnsupportedFormatError(ext)
	}

	path, err := r.deps.Store.Save(base, data)
	if err != nil {
		return models.IngestResult{}, err
	}

	text, err := r.deps.Parser.Extract(data, ext)
	if err != nil {
		if rmErr := r.deps.Store.Remove(path); rmErr != nil {
			logger.Error().Err(rmErr).Str("file_path", path).Msg("Failed to remove rejected upload")
		}
		logger.Warn().Err(err).Str("file", base).Msg("Rejected upload")
		return models.IngestResult{}, err
	}

	title := strings.TrimSuffix(base, filepath.Ext(base))
	chunks, err := chunker.Chunk(ctx, text, r.chunkOptions(models.SourceUserUpload, title, path), r.deps.Embedder)
	if err != nil {
		return models.IngestResult{}, err
	}

	if err := r.deps.Index.Upsert(ctx, chunks); err != nil {
		return models.IngestResult{}, err
	}

	logger.Info().Int("chunks", len(chunks)).Str("file_path", path).Msg("Indexed document")
	return models.IngestResult{Chunks: len(chunks), FilePath: path}, nil
}

// Query runs embed, retrieve, rerank, generate, verify and finalize in order.
func (r *RAG) Query(ctx context.Context, query string) (*models.QueryResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.ValidationError("No query provided")
	}
	logger := log.With().Str("request_id", helper.RequestID()).Str("op", "query").Logger()
	start := time.Now()

	vec, err := r.deps.Embedder.Embed(ctx, query)
	if err != nil {
		logger.Error().Err(err).Msg("Query embedding failed")
		return nil, err
	}
	logger.Debug().Dur("elapsed", time.Since(start)).Msg("Embedded query")

	hits, err := r.deps.Index.Search(ctx, vec, r.cfg.RawK)
	if err != nil {
		logger.Error().Err(err).Msg("Vector search failed")
		return nil, err
	}
	candidates := make([]models.Candidate, 0, len(hits))
	for _, hit := range hits {
		candidates = append(candidates, models.CandidateFromHit(hit))
	}
	logger.Debug().Int("candidates", len(candidates)).Dur("elapsed", time.Since(start)).Msg("Retrieved candidates")

	final, rerankerUsed := r.rerank(ctx, &logger, query, candidates)
	retrieveMs := time.Since(start).Milliseconds()

	genStart := time.Now()
	answer, err := r.deps.Generator.Generate(ctx, query, final)
	if err != nil {
		logger.Error().Err(err).Msg("Answer generation failed")
		return nil, err
	}
	generateMs := time.Since(genStart).Milliseconds()
	logger.Debug().Int64("generate_ms", generateMs).Msg("Generated answer")

	verdict, err := r.deps.Verifier.Verify(ctx, answer, final)
	if err != nil {
		logger.Warn().Err(err).Msg("Verification failed, treating answer as unsupported")
		verdict = models.FailClosed()
	}

	verification := models.Verification{Verified: true, Issues: []string{}}
	if !verdict.Supported {
		answer = models.UnreliableAnswer
		verification.Verified = false
		if verdict.UnsupportedSentences != nil {
			verification.Issues = verdict.UnsupportedSentences
		}
	}

	citations := make([]models.Citation, 0, len(final))
	for i, c := range final {
		citations = append(citations, models.Citation{
			ID:          i + 1,
			Source:      c.Title,
			Position:    c.Position,
			TextExcerpt: c.TextExcerpt,
			FilePath:    c.FilePath,
		})
	}

	resp := &models.QueryResponse{
		Answer:    answer,
		Citations: citations,
		Timing: models.Timing{
			RetrieveMs: retrieveMs,
			GenerateMs: generateMs,
			TotalMs:    time.Since(start).Milliseconds(),
		},
		RerankerUsed: rerankerUsed,
		Verification: verification,
	}
	logger.Info().
		Int("citations", len(citations)).
		Str("reranker", rerankerUsed).
		Bool("verified", verification.Verified).
		Int64("total_ms", resp.Timing.TotalMs).
		Msg("Answered query")
	return resp, nil
}

// rerank narrows candidates to FinalN. Reranker failures never fail the
// query: the configured fallback decides what is kept.
func (r *RAG) rerank(ctx context.Context, logger *zerolog.Logger, query string, candidates []models.Candidate) ([]models.Candidate, string) {
	if len(candidates) == 0 {
		return []models.Candidate{}, models.RerankerNone
	}
	if r.deps.Reranker == nil {
		return r.topN(candidates), models.RerankerNone
	}

	docs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		docs = append(docs, c.TextExcerpt)
	}

	indices, err := r.deps.Reranker.Rerank(ctx, query, docs, r.cfg.FinalN)
	if err == nil {
		err = checkIndices(indices, len(candidates))
	}
	if err != nil {
		logger.Warn().Err(err).Str("fallback", r.cfg.RerankFallback).Msg("Reranking failed")
		if r.cfg.RerankFallback == config.FallbackEmpty {
			return []models.Candidate{}, models.RerankerNone
		}
		return r.topN(candidates), models.RerankerNone
	}

	final := make([]models.Candidate, 0, len(indices))
	for _, i := range indices {
		final = append(final, candidates[i])
	}
	if len(final) > r.cfg.FinalN {
		final = final[:r.cfg.FinalN]
	}
	return final, r.deps.Reranker.Name()
}

func (r *RAG) topN(candidates []models.Candidate) []models.Candidate {
	n := min(r.cfg.FinalN, len(candidates))
	out := make([]models.Candidate, n)
	copy(out, candidates[:n])
	return out
}

var errBadIndex = errors.New("reranker returned an invalid index")

// checkIndices rejects indices that are out of range or repeated.
func checkIndices(indices []int, n int) error {
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= n {
			return models.NewError(models.KindRerank, "rag.rerank", fmt.Errorf("%w: %d of %d", errBadIndex, i, n))
		}
		if seen[i] {
			return models.NewError(models.KindRerank, "rag.rerank", fmt.Errorf("%w: %d repeated", errBadIndex, i))
		}
		seen[i] = true
	}
	return nil
}

// Clear removes every chunk from the index.
func (r *RAG) Clear(ctx context.Context, hard bool) error {
	if err := r.deps.Index.Clear(ctx, hard); err != nil {
		return err
	}
	log.Info().Bool("hard", hard).Msg("Cleared index")
	return nil
}

// ArtifactPath returns the absolute path of a stored artifact, or a not
// found error when it does not exist inside the storage root.
func (r *RAG) ArtifactPath(path string) (string, error) {
	abs, err := r.deps.Store.Resolve(path)
	if err != nil {
		return "", err
	}
	if !r.deps.Store.Exists(abs) {
		return "", &models.Error{Kind: models.KindNotFound, Op: "rag.ArtifactPath", Msg: "File not found"}
	}
	return abs, nil
}
