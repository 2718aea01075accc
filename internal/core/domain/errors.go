package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")

	ErrConfig           = errors.New("config error")
	ErrDenseRetrieval   = errors.New("dense retrieval failure")
	ErrLexicalRetrieval = errors.New("lexical retrieval failure")
	ErrLLM              = errors.New("llm error")
	ErrParse            = errors.New("parse error")
	ErrSchema           = errors.New("schema error")
	ErrRunCancelled     = errors.New("run cancelled")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// LLMError is returned once every attempt against the LLM endpoint failed.
type LLMError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm call failed after %d attempt(s) in %s: %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *LLMError) Unwrap() []error { return []error{ErrLLM, e.Err} }

// ParseError carries a bounded snippet of the raw model output.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model output: %v (output: %q)", e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

// ErrorClass names the taxonomy bucket recorded next to a failed run.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRunCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrLexicalRetrieval):
		return "RetrievalError.LexicalFailure"
	case errors.Is(err, ErrDenseRetrieval):
		return "RetrievalError.DenseFailure"
	case errors.Is(err, ErrLLM):
		return "LlmError"
	case errors.Is(err, ErrParse):
		return "ParseError"
	case errors.Is(err, ErrSchema):
		return "SchemaError"
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		return "Internal"
	}
}
