package models

import "time"

// Chunk represents a window of source text with its provenance and embedding
type Chunk struct {
	ID          int        `json:"id"`
	Source      string     `json:"source"`
	Title       string     `json:"title"`
	Position    int        `json:"position"`
	TextExcerpt string     `json:"text_excerpt"`
	Embedding   []float32  `json:"-"`
	UploadedAt  *time.Time `json:"uploaded_at,omitempty"`
	FilePath    string     `json:"file_path,omitempty"`
}

// SearchHit is a single nearest-neighbour result returned by a vector index.
// The Chunk carries the stored payload; its Embedding is not populated.
type SearchHit struct {
	ID    int
	Score float32
	Chunk Chunk
}

// Candidate is the projection of a search hit used by the query pipeline
type Candidate struct {
	ID          int    `json:"id"`
	TextExcerpt string `json:"text_excerpt"`
	Title       string `json:"title"`
	Position    int    `json:"position"`
	FilePath    string `json:"file_path"`
}

// CandidateFromHit projects a hit into a Candidate, falling back to the
// source when the chunk has no title.
func CandidateFromHit(hit SearchHit) Candidate {
	title := hit.Chunk.Title
	if title == "" {
		title = hit.Chunk.Source
	}
	return Candidate{
		ID:          hit.ID,
		TextExcerpt: hit.Chunk.TextExcerpt,
		Title:       title,
		Position:    hit.Chunk.Position,
		FilePath:    hit.Chunk.FilePath,
	}
}

// Citation is a numbered reference to a candidate in the final answer
type Citation struct {
	ID          int    `json:"id"`
	Source      string `json:"source"`
	Position    int    `json:"position"`
	TextExcerpt string `json:"text_excerpt"`
	FilePath    string `json:"file_path"`
}

// VerificationResult is the grounding verdict for a generated answer
type VerificationResult struct {
	Supported            bool     `json:"supported"`
	UnsupportedSentences []string `json:"unsupported_sentences"`
}

// FailClosed is the verdict used whenever verification cannot be completed.
func FailClosed() VerificationResult {
	return VerificationResult{Supported: false, UnsupportedSentences: []string{VerificationFailed}}
}

type Timing struct {
	RetrieveMs int64 `json:"retrieve_ms"`
	GenerateMs int64 `json:"generate_ms"`
	TotalMs    int64 `json:"total_ms"`
}

type Verification struct {
	Verified bool     `json:"verified"`
	Issues   []string `json:"issues"`
}

// QueryResponse is the structured result of the query pipeline
type QueryResponse struct {
	Answer       string       `json:"answer"`
	Citations    []Citation   `json:"citations"`
	Timing       Timing       `json:"timing_ms"`
	RerankerUsed string       `json:"reranker_used"`
	Verification Verification `json:"verification"`
}

// IngestResult reports how many chunks were indexed and where the raw artifact lives
type IngestResult struct {
	Chunks   int    `json:"chunks"`
	FilePath string `json:"file_path"`
}
