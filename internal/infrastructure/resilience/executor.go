package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor runs outbound calls (LLM, embeddings, NATS publishes) with retry
// and one circuit breaker per operation name.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Stats reports how an Execute call went.
type Stats struct {
	Attempts int
	Elapsed  time.Duration
}

func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classifier ErrorClassifier) error {
	_, err := e.ExecuteWithStats(ctx, operation, fn, classifier)
	return err
}

// ExecuteWithStats runs fn with retry and, when enabled, behind the breaker
// for operation. Attempts counts calls of fn, so a rejected call reports 0.
// Breaker rejections are ErrTemporary.
func (e *Executor) ExecuteWithStats(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) (Stats, error) {
	start := time.Now()
	if fn == nil {
		return Stats{}, domain.WrapError(domain.ErrInvalidInput, "resilience execute", errors.New("operation callback is nil"))
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	r := retrier{cfg: e.cfg, op: op, fn: fn, classify: classifier}
	if !e.cfg.BreakerEnabled {
		err := r.run(ctx)
		return Stats{Attempts: r.attempts, Elapsed: time.Since(start)}, err
	}

	_, err := e.breaker(op, classifier).Execute(func() (struct{}, error) {
		return struct{}{}, r.run(ctx)
	})
	if IsCircuitOpen(err) {
		err = domain.WrapError(domain.ErrTemporary, op, err)
	}
	return Stats{Attempts: r.attempts, Elapsed: time.Since(start)}, err
}

// OpenBreakers lists operations whose breaker currently rejects calls.
func (e *Executor) OpenBreakers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var open []string
	for name, b := range e.breakers {
		if b.State() == gobreaker.StateOpen {
			open = append(open, name)
		}
	}
	sort.Strings(open)
	return open
}

type retrier struct {
	cfg      Config
	op       string
	fn       func(context.Context) error
	classify ErrorClassifier
	attempts int
}

// run returns the last operation error when ctx ends mid-retry, so callers
// see why the call failed rather than a bare context error.
func (r *retrier) run(ctx context.Context) error {
	schedule := r.cfg.backoff()
	var lastErr error
	for r.attempts < r.cfg.RetryMaxAttempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		r.attempts++
		lastErr = r.fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !r.classify(lastErr).Retryable || r.attempts == r.cfg.RetryMaxAttempts {
			return lastErr
		}

		wait := schedule.wait()
		slog.Warn("retry_attempt",
			"operation", r.op,
			"attempt", r.attempts,
			"max_attempts", r.cfg.RetryMaxAttempts,
			"backoff_ms", domain.DurationMs(wait),
			"error", lastErr,
		)
		if !sleep(ctx, wait) {
			return lastErr
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) breaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[operation]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[operation] = b
	return b
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{Retryable: false, RecordFailure: true}
}
