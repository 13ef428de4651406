package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/xeipuuv/gojsonschema"

	"grounded-rag/internal/models"
)

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

var errNoJSON = errors.New("no JSON object in verifier output")

// Verifier asks the model whether each sentence of an answer is supported by
// the snippets it was generated from.
type Verifier struct {
	llm     llms.Model
	timeout time.Duration
	schema  *gojsonschema.Schema
}

func NewVerifier(llm llms.Model, timeout time.Duration) (*Verifier, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(models.VerificationSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile verification schema: %w", err)
	}
	return &Verifier{llm: llm, timeout: timeout, schema: schema}, nil
}

// Verify returns the grounding verdict for answer. When the model cannot be
// reached or its output does not match the expected shape, the returned
// verdict is the fail-closed one together with a verification error.
func (v *Verifier) Verify(ctx context.Context, answer string, snippets []models.Candidate) (models.VerificationResult, error) {
	const op = "llmservice.Verify"

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(models.VerifyPromptTemplate, listSnippets(snippets), answer)
	raw, err := GenerateContent(ctx, v.llm, prompt, llms.WithTemperature(0))
	if err != nil {
		return models.FailClosed(), models.NewError(models.KindVerification, op, err)
	}

	result, err := v.parse(raw)
	if err != nil {
		return models.FailClosed(), models.NewError(models.KindVerification, op, err)
	}
	return result, nil
}

func (v *Verifier) parse(raw string) (models.VerificationResult, error) {
	doc := jsonObject.FindString(raw)
	if doc == "" {
		return models.VerificationResult{}, errNoJSON
	}

	res, err := v.schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return models.VerificationResult{}, fmt.Errorf("invalid verifier JSON: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return models.VerificationResult{}, fmt.Errorf("verifier output does not match schema: %s", strings.Join(msgs, "; "))
	}

	var result models.VerificationResult
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return models.VerificationResult{}, err
	}
	if result.UnsupportedSentences == nil {
		result.UnsupportedSentences = []string{}
	}
	return result, nil
}

func listSnippets(snippets []models.Candidate) string {
	lines := make([]string, 0, len(snippets))
	for i, s := range snippets {
		lines = append(lines, fmt.Sprintf("[%d] %s", i+1, s.TextExcerpt))
	}
	return strings.Join(lines, "\n")
}
