package models

const (
	ThinkTag = `(?s)<think>.*?</think>`

	// NoAnswer is the exact refusal the generator must produce when no snippet supports the query.
	NoAnswer = "I could not find an answer in the provided sources."
	// UnreliableAnswer replaces any answer that failed grounding verification.
	UnreliableAnswer = "I could not find a reliable answer in the provided sources."
	// VerificationFailed is the issue reported when the verifier output is unusable.
	VerificationFailed = "verification_failed"

	RerankerNone = "none"

	SourceUserInput  = "UserInput"
	SourceUserUpload = "UserUpload"

	DefaultDimension    = 768
	MaxExcerptChars     = 800
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 80
	DefaultRawK         = 15
	DefaultFinalN       = 5
)

var (
	AnswerPromptTemplate = `You answer questions strictly from the numbered snippets below.
Use only information contained in the snippets. After every statement add the number of the
supporting snippet in square brackets, for example [1] or [2][3].
If the snippets do not contain the answer, reply with exactly this sentence and nothing else:
` + NoAnswer + `

Snippets:
%s

Question: %s

Concise answer with inline citations:`

	VerifyPromptTemplate = `You check whether an answer is grounded in source snippets.

Snippets:
%s

Answer:
%s

Go through the answer sentence by sentence and decide whether each sentence is fully supported
by one or more snippets. Reply with a single JSON object and nothing else, using this shape:
{"supported": <true if every sentence is supported>, "unsupported_sentences": [<unsupported sentences verbatim>]}
When every sentence is supported reply {"supported": true, "unsupported_sentences": []}.`

	VerificationSchema = `{
  "type": "object",
  "required": ["supported"],
  "properties": {
    "supported": {"type": "boolean"},
    "unsupported_sentences": {"type": "array", "items": {"type": "string"}}
  }
}`
)
