package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"grounded-rag/internal/models"
)

// Generator produces answers that cite the numbered snippets they use.
type Generator struct {
	llm         llms.Model
	temperature float64
	timeout     time.Duration
}

func NewGenerator(llm llms.Model, temperature float64, timeout time.Duration) *Generator {
	return &Generator{llm: llm, temperature: temperature, timeout: timeout}
}

// Generate answers query from snippets. Snippet i is cited as [i+1].
func (g *Generator) Generate(ctx context.Context, query string, snippets []models.Candidate) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(models.AnswerPromptTemplate, FormatSnippets(snippets), query)
	answer, err := GenerateContent(ctx, g.llm, prompt, llms.WithTemperature(g.temperature))
	if err != nil {
		return "", models.NewError(models.KindGenerator, "llmservice.Generate", err)
	}

	log.Debug().Int("snippets", len(snippets)).Int("answer_len", len(answer)).Msg("Generated answer")
	return answer, nil
}

// FormatSnippets renders snippets as numbered blocks with their provenance.
func FormatSnippets(snippets []models.Candidate) string {
	lines := make([]string, 0, len(snippets))
	for i, s := range snippets {
		lines = append(lines, fmt.Sprintf("[%d] %s\n(source: %s, pos:%d)", i+1, s.TextExcerpt, s.Title, s.Position))
	}
	return strings.Join(lines, "\n\n")
}
