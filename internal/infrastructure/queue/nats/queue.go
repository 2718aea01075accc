package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/infrastructure/resilience"
)

type Subjects struct {
	RunRequested string
	RunFinished  string
}

func DefaultSubjects() Subjects {
	return Subjects{
		RunRequested: "extraction.run.requested",
		RunFinished:  "extraction.run.finished",
	}
}

// Queue carries run requests to workers and run completion events back out.
type Queue struct {
	conn     *nats.Conn
	subjects Subjects
	group    string
	executor *resilience.Executor
}

type Options struct {
	Name                 string
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string, subjects Subjects) (*Queue, error) {
	return NewWithOptions(url, subjects, Options{})
}

func NewWithOptions(url string, subjects Subjects, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "bidscope"
	}
	group := options.QueueGroup
	if group == "" {
		group = "extraction-workers"
	}
	subjects = subjects.withDefaults()

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subjects: subjects,
		group:    group,
		executor: options.ResilienceExecutor,
	}, nil
}

func (s Subjects) withDefaults() Subjects {
	def := DefaultSubjects()
	if strings.TrimSpace(s.RunRequested) == "" {
		s.RunRequested = def.RunRequested
	}
	if strings.TrimSpace(s.RunFinished) == "" {
		s.RunFinished = def.RunFinished
	}
	return s
}

// Ready reports whether the connection to the server is up.
func (q *Queue) Ready() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishRunRequested(ctx context.Context, req domain.RunRequest) error {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}
	return q.publish(ctx, q.subjects.RunRequested, payload)
}

func (q *Queue) PublishRunFinished(ctx context.Context, record domain.RunRecord) error {
	payload, err := json.Marshal(runFinishedEvent(record))
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	return q.publish(ctx, q.subjects.RunFinished, payload)
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(context.Context) error {
		return tagPublishError(subject, q.conn.Publish(subject, payload))
	}
	if q.executor == nil {
		return call(ctx)
	}
	return q.executor.Execute(ctx, "nats.publish", call, resilience.ClassifyByKind)
}

// SubscribeRunRequested blocks until ctx is done, handing each request to
// handler. Workers in the same queue group share the load.
func (q *Queue) SubscribeRunRequested(ctx context.Context, handler func(context.Context, domain.RunRequest) error) error {
	sub, err := q.conn.QueueSubscribe(q.subjects.RunRequested, q.group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		req, err := decodeRunRequest(msg.Data)
		if err != nil {
			slog.Error("run_request_rejected", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, req); err != nil {
			slog.Error("run_request_failed",
				"entity_id", req.EntityID,
				"spec", req.SpecName,
				"run_id", req.RunID,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func decodeRunRequest(data []byte) (domain.RunRequest, error) {
	var req domain.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.RunRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode run request", err)
	}
	if strings.TrimSpace(req.EntityID) == "" || strings.TrimSpace(req.SpecName) == "" {
		return domain.RunRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode run request", errors.New("entity_id and spec_name are required"))
	}
	return req, nil
}

// RunFinished is the event body; the full result stays in the result store.
type RunFinished struct {
	EntityID   string             `json:"entity_id"`
	SpecName   string             `json:"spec_name"`
	RunID      string             `json:"run_id"`
	Status     domain.RunStatus   `json:"status"`
	Mode       domain.CutoverMode `json:"mode"`
	Variant    domain.RunVariant  `json:"variant"`
	ErrorClass string             `json:"error_class,omitempty"`
	Degraded   bool               `json:"degraded"`
	Evidence   int                `json:"evidence_count"`
	TotalMs    float64            `json:"total_ms"`
	FinishedAt time.Time          `json:"finished_at"`
}

func runFinishedEvent(record domain.RunRecord) RunFinished {
	event := RunFinished{
		EntityID:   record.EntityID,
		SpecName:   record.SpecName,
		RunID:      record.RunID,
		Status:     record.Status,
		Mode:       record.Mode,
		Variant:    record.Variant,
		ErrorClass: record.ErrorClass,
		FinishedAt: record.FinishedAt,
	}
	if record.Result != nil {
		event.Degraded = record.Result.Degraded
		event.Evidence = len(record.Result.EvidenceChunkIDs)
		event.TotalMs = record.Result.Timing.TotalMs
	}
	return event
}
