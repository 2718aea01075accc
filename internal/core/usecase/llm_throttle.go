package usecase

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/core/ports"
)

// ThrottledLLM spaces calls to the LLM endpoint with a token bucket shared by
// every run in the process.
type ThrottledLLM struct {
	next    ports.LLM
	limiter *rate.Limiter
}

// NewThrottledLLM allows rps calls per second with the given burst. A
// non-positive rps disables throttling.
func NewThrottledLLM(next ports.LLM, rps float64, burst int) *ThrottledLLM {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledLLM{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (t *ThrottledLLM) Generate(ctx context.Context, messages []domain.Message, opts domain.GenerateOptions) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.next.Generate(ctx, messages, opts)
}
