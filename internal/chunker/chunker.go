package chunker

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"grounded-rag/internal/models"
)

// Embedder turns a window of text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	Source     string
	Title      string
	FilePath   string
	WindowSize int
	Overlap    int
}

// DefaultOptions returns the standard 800/80 token window for source.
func DefaultOptions(source string) Options {
	return Options{
		Source:     source,
		WindowSize: models.DefaultChunkSize,
		Overlap:    models.DefaultChunkOverlap,
	}
}

// Chunk splits text into overlapping whitespace-token windows and embeds each
// one. Positions run 0..N-1 and the chunk id equals its position. The
// embedding is computed on the full window; only the stored excerpt is
// truncated.
func Chunk(ctx context.Context, text string, opts Options, embedder Embedder) ([]models.Chunk, error) {
	if opts.WindowSize <= 0 {
		return nil, models.ConfigurationError("window size must be positive, got %d", opts.WindowSize)
	}
	if opts.Overlap < 0 {
		return nil, models.ConfigurationError("overlap must not be negative, got %d", opts.Overlap)
	}
	step := opts.WindowSize - opts.Overlap
	if step <= 0 {
		return nil, models.ConfigurationError("window size %d must exceed overlap %d", opts.WindowSize, opts.Overlap)
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	uploadedAt := time.Now().UTC()
	chunks := make([]models.Chunk, 0, len(words)/step+1)
	for start, position := 0, 0; start < len(words); start, position = start+step, position+1 {
		end := min(start+opts.WindowSize, len(words))
		window := strings.Join(words[start:end], " ")

		vec, err := embedder.Embed(ctx, window)
		if err != nil {
			return nil, err
		}

		chunks = append(chunks, models.Chunk{
			ID:          position,
			Source:      opts.Source,
			Title:       opts.Title,
			Position:    position,
			TextExcerpt: Truncate(window, models.MaxExcerptChars),
			Embedding:   vec,
			UploadedAt:  &uploadedAt,
			FilePath:    opts.FilePath,
		})

		if end == len(words) {
			break
		}
	}

	log.Debug().
		Str("source", opts.Source).
		Int("words", len(words)).
		Int("chunks", len(chunks)).
		Msg("Chunked text")
	return chunks, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
