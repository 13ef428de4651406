package models

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can decide how to surface them
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnsupportedFormat
	KindConfiguration
	KindEmbedding
	KindIndex
	KindRerank
	KindGenerator
	KindVerification
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindConfiguration:
		return "configuration"
	case KindEmbedding:
		return "embedding"
	case KindIndex:
		return "index"
	case KindRerank:
		return "rerank"
	case KindGenerator:
		return "generator"
	case KindVerification:
		return "verification"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error. Msg is safe to show to callers,
// Err holds the underlying cause and is only logged.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so the
// sentinels below match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrEmbedding         = &Error{Kind: KindEmbedding}
	ErrIndex             = &Error{Kind: KindIndex}
	ErrRerank            = &Error{Kind: KindRerank}
	ErrGenerator         = &Error{Kind: KindGenerator}
	ErrVerification      = &Error{Kind: KindVerification}
	ErrNotFound          = &Error{Kind: KindNotFound}

	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func ValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func UnsupportedFormatError(ext string) *Error {
	return &Error{Kind: KindUnsupportedFormat, Msg: "Unsupported file format", Err: fmt.Errorf("extension %q", ext)}
}

func ConfigurationError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PublicMessage maps err to a stable message that never includes provider detail.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Internal server error"
	}
	switch e.Kind {
	case KindValidation, KindUnsupportedFormat, KindNotFound:
		if e.Msg != "" {
			return e.Msg
		}
		if e.Kind == KindNotFound {
			return "File not found"
		}
		return "Invalid request"
	case KindConfiguration:
		return "Invalid pipeline configuration"
	case KindEmbedding:
		return "Embedding service unavailable"
	case KindIndex:
		return "Vector index unavailable"
	case KindGenerator:
		return "Answer generation failed"
	case KindRerank:
		return "Reranking failed"
	case KindVerification:
		return "Answer verification failed"
	default:
		return "Internal server error"
	}
}
