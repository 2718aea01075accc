package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// ClassifyByKind decides retries from the domain kind adapters tag their
// errors with. Only ErrTemporary is retried. Caller cancellation and rejected
// requests never count against a breaker.
func ClassifyByKind(err error) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{}
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotFound):
		return ErrorClassification{}
	case errors.Is(err, domain.ErrTemporary):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return ErrorClassification{RecordFailure: true}
	}
}
