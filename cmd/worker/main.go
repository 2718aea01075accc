package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/bidscope/internal/adapters/http"
	"github.com/kirillkom/bidscope/internal/bootstrap"
	"github.com/kirillkom/bidscope/internal/config"
	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger, flush := logging.New(cfg.LogBackend, cfg.ServiceName, cfg.LogLevel)
	defer flush()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("worker_failed", "error", err)
		flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Watcher != nil {
		if err := app.Watcher.Start(ctx); err != nil {
			// Without the watcher the gate keeps the snapshot loaded at startup.
			slog.Warn("cutover_watcher_unavailable", "error", err)
		}
	}

	opsHandler := httpadapter.NewOpsHandler(app.Metrics.Handler(),
		httpadapter.ReadinessCheck{Name: "nats", Check: app.Queue.Ready},
		httpadapter.ReadinessCheck{Name: "breakers", Check: func() error {
			if open := app.Executor.OpenBreakers(); len(open) > 0 {
				return fmt.Errorf("open: %s", strings.Join(open, ","))
			}
			return nil
		}},
	)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           opsHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_started",
		"subject", cfg.NATSRunRequestedSubject,
		"queue_group", cfg.NATSQueueGroup,
		"metrics_port", cfg.WorkerMetricsPort,
		"specs", app.Specs.Names(),
		"cutover_stages", app.Gate.Snapshot().Stages(),
	)
	return app.Queue.SubscribeRunRequested(ctx, func(handlerCtx context.Context, req domain.RunRequest) error {
		return handleRun(handlerCtx, app, req)
	})
}

func handleRun(ctx context.Context, app *bootstrap.App, req domain.RunRequest) error {
	if !req.RequestedAt.IsZero() {
		app.Metrics.ObserveQueueLag(time.Since(req.RequestedAt))
	}
	app.Metrics.StartRun()
	defer app.Metrics.FinishRun()

	runCtx, cancel := context.WithTimeout(ctx, app.Config.RunTimeout)
	defer cancel()

	record, err := app.RunnerUC.RunForEntity(runCtx, req)
	if err != nil {
		return err
	}
	slog.Info("worker_run_handled",
		"entity_id", record.EntityID,
		"spec", record.SpecName,
		"run_id", record.RunID,
		"status", record.Status,
	)
	return nil
}
