package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/bidscope/internal/adapters/cli"
	"github.com/kirillkom/bidscope/internal/bootstrap"
	"github.com/kirillkom/bidscope/internal/config"
	"github.com/kirillkom/bidscope/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger, flush := logging.New(cfg.LogBackend, "bidscope-cli", cfg.LogLevel)
	defer flush()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(func(ctx context.Context) (*cli.Services, func(), error) {
		app, err := bootstrap.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return &cli.Services{
			Ingest:    app.IngestUC,
			Retriever: app.RetrieverUC,
			Runner:    app.RunnerUC,
			Publisher: app.Queue,
			Results:   app.Results,
			Specs:     app.Specs,
			Cutover:   app.Gate,
		}, app.Close, nil
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		flush()
		os.Exit(1)
	}
}
