package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/bidscope/internal/config"
	"github.com/kirillkom/bidscope/internal/core/ports"
	"github.com/kirillkom/bidscope/internal/core/usecase"
	"github.com/kirillkom/bidscope/internal/cutover"
	rediscache "github.com/kirillkom/bidscope/internal/infrastructure/cache/redis"
	"github.com/kirillkom/bidscope/internal/infrastructure/chunking"
	"github.com/kirillkom/bidscope/internal/infrastructure/extractor/document"
	"github.com/kirillkom/bidscope/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/bidscope/internal/infrastructure/queue/nats"
	"github.com/kirillkom/bidscope/internal/infrastructure/repository/memory"
	"github.com/kirillkom/bidscope/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/bidscope/internal/infrastructure/resilience"
	"github.com/kirillkom/bidscope/internal/infrastructure/specs"
	"github.com/kirillkom/bidscope/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/bidscope/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/bidscope/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue    *nats.Queue
	Store    ports.DocumentStore
	Registry ports.DocumentRegistry
	Results  ports.ResultStore
	Specs    *specs.Catalog
	Gate     *cutover.Gate
	Watcher  *cutover.Watcher
	Metrics  *metrics.WorkerMetrics
	Executor *resilience.Executor

	IngestUC    ports.DocumentIngestor
	RetrieverUC ports.Retriever
	RunnerUC    ports.ExtractionRunner

	closeFn func()
}

type storeSet struct {
	store    ports.DocumentStore
	registry ports.DocumentRegistry
	results  ports.ResultStore
	db       *sql.DB
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	stores, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closers := []func(){}
	if stores.db != nil {
		closers = append(closers, func() { _ = stores.db.Close() })
	}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	catalog, err := specs.Load(cfg.SpecsDir)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("load extraction specs: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:        cfg.RetryMaxAttempts,
		RetryInitialBackoff:     cfg.RetryInitialBackoff,
		RetryMaxBackoff:         cfg.RetryMaxBackoff,
		RetryMultiplier:         cfg.RetryMultiplier,
		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.BreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.BreakerFailureRatio,
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.BreakerHalfOpenCalls, 0)),
	})

	queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Subjects{
		RunRequested: cfg.NATSRunRequestedSubject,
		RunFinished:  cfg.NATSRunFinishedSubject,
	}, nats.Options{
		Name:               cfg.ServiceName,
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: executor,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	closers = append(closers, queue.Close)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel)
	llm := usecase.NewThrottledLLM(ollama.NewChatModel(ollamaClient), cfg.LLMRateRPS, cfg.LLMRateBurst)

	var (
		embedder ports.Embedder
		index    ports.VectorIndex
	)
	if cfg.DenseEnabled {
		embedder = ollama.NewEmbedder(ollamaClient, executor)
		index = qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	} else {
		slog.Info("dense_retrieval_disabled")
	}

	workerMetrics := metrics.NewWorkerMetrics(cfg.ServiceName)

	retriever := usecase.NewHybridRetriever(stores.store, stores.registry, embedder, index, usecase.RetrieverConfig{
		RRFK:                cfg.RetrievalRRFK,
		DefaultTopK:         cfg.RetrievalTopK,
		DefaultDenseLimit:   cfg.RetrievalDenseLimit,
		DefaultLexicalLimit: cfg.RetrievalLexicalLimit,
		DenseTimeout:        cfg.DenseTimeout,
		LexicalTimeout:      cfg.LexicalTimeout,
	})
	retriever.SetMetrics(workerMetrics)
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		closers = append(closers, func() { _ = client.Close() })
		retriever.SetCache(rediscache.NewRetrievalCache(client, cfg.RetrievalCacheTTL))
	}

	engine := usecase.NewExtractionEngine(retriever, llm, executor, usecase.EngineConfig{
		GroupConcurrency: cfg.ExtractionGroupConcurrency,
		DenseLimit:       cfg.RetrievalDenseLimit,
		LexicalLimit:     cfg.RetrievalLexicalLimit,
		MaxTokens:        cfg.ExtractionMaxTokens,
		LLMTimeout:       cfg.ExtractionLLMTimeout,
		DefaultModel:     cfg.OllamaGenModel,
	})
	legacy := usecase.NewLegacyExtractor(stores.store, stores.registry, llm, executor, usecase.LegacyConfig{
		MaxChars:     cfg.LegacyMaxChars,
		MaxTokens:    cfg.ExtractionMaxTokens,
		LLMTimeout:   cfg.ExtractionLLMTimeout,
		DefaultModel: cfg.OllamaGenModel,
	})

	gate := cutover.LoadGate(cfg.CutoverConfigPath)
	var watcher *cutover.Watcher
	if cfg.CutoverWatch && cfg.CutoverConfigPath != "" {
		watcher = cutover.NewWatcher(cfg.CutoverConfigPath, gate)
	}

	runner := usecase.NewExtractionService(catalog, gate, legacy, engine, stores.results, usecase.ServiceConfig{
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		DefaultModel:      cfg.OllamaGenModel,
	})
	runner.SetEvents(queue)
	runner.SetMetrics(workerMetrics)

	segmenter := chunking.NewSegmenter(cfg.ChunkSize, cfg.ChunkOverlap)
	ingest := usecase.NewIngestService(stores.store, storage, document.NewExtractor(), segmenter, embedder, index)

	return &App{
		Config:   cfg,
		Queue:    queue,
		Store:    stores.store,
		Registry: stores.registry,
		Results:  stores.results,
		Specs:    catalog,
		Gate:     gate,
		Watcher:  watcher,
		Metrics:  workerMetrics,
		Executor: executor,

		IngestUC:    ingest,
		RetrieverUC: retriever,
		RunnerUC:    runner,

		closeFn: closeAll,
	}, nil
}

func openStores(ctx context.Context, cfg config.Config) (storeSet, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		slog.Warn("store_backend_memory", "detail", "documents and results are lost on restart")
		mem := memory.NewStore()
		return storeSet{store: mem, registry: mem, results: mem}, nil
	case config.StoreBackendPostgres, "":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return storeSet{}, fmt.Errorf("open postgres: %w", err)
		}
		docs := postgres.NewDocumentRepository(db)
		if err := docs.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return storeSet{}, fmt.Errorf("ensure document schema: %w", err)
		}
		results := postgres.NewResultRepository(db)
		if err := results.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return storeSet{}, fmt.Errorf("ensure result schema: %w", err)
		}
		return storeSet{store: docs, registry: docs, results: results, db: db}, nil
	default:
		return storeSet{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (a *App) Close() {
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	if a.closeFn != nil {
		a.closeFn()
	}
}
