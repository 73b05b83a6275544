package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docpipe/internal/config"
	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
	"github.com/kirillkom/docpipe/internal/core/prompt"
	"github.com/kirillkom/docpipe/internal/core/reconcile"
	"github.com/kirillkom/docpipe/internal/core/usecase"
	"github.com/kirillkom/docpipe/internal/infrastructure/extractor"
	"github.com/kirillkom/docpipe/internal/infrastructure/llm"
	"github.com/kirillkom/docpipe/internal/infrastructure/llm/claude"
	"github.com/kirillkom/docpipe/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/docpipe/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docpipe/internal/infrastructure/queue/asynqueue"
	"github.com/kirillkom/docpipe/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docpipe/internal/infrastructure/repository/badgerdb"
	"github.com/kirillkom/docpipe/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docpipe/internal/infrastructure/resilience"
	"github.com/kirillkom/docpipe/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docpipe/internal/infrastructure/storage/s3"
)

type documentRepository interface {
	ports.DocumentStore
	ports.DocumentCatalog
}

type dispatchBackend interface {
	ports.Dispatcher
	ports.TaskConsumer
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Store      ports.DocumentStore
	Catalog    ports.DocumentCatalog
	Storage    ports.ObjectStorage
	Dispatcher ports.Dispatcher
	Consumer   ports.TaskConsumer
	LLMs       *llm.Registry

	Pipeline       *usecase.DocumentPipeline
	IngestUC       *usecase.IngestDocumentUseCase
	QueryUC        *usecase.DocumentQueryUseCase
	DiagnosticsUC  *usecase.DiagnosticsUseCase
	HousekeepingUC *usecase.HousekeepingUseCase

	closers []func() error
}

type Option func(*options)

type options struct {
	stageMetrics ports.StageMetrics
}

// WithStageMetrics attaches stage observers to the pipeline.
func WithStageMetrics(metrics ports.StageMetrics) Option {
	return func(o *options) {
		o.stageMetrics = metrics
	}
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	app := &App{Config: cfg, Logger: logger}

	repo, err := app.openRepository(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = repo
	app.Catalog = repo

	storage, err := app.openStorage(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Storage = storage

	backend, err := app.openDispatcher()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Dispatcher = backend
	app.Consumer = backend

	app.LLMs = newLLMRegistry(cfg, logger)
	extractors := extractor.NewRegistry(extractor.Config{
		TesseractPath: cfg.TesseractPath,
		OCRLanguage:   cfg.OCRLanguage,
		Logger:        logger,
	})

	pipelineOpts := []usecase.PipelineOption{usecase.WithPipelineLogger(logger)}
	if o.stageMetrics != nil {
		pipelineOpts = append(pipelineOpts, usecase.WithStageMetrics(o.stageMetrics))
	}
	app.Pipeline = usecase.NewDocumentPipeline(
		app.Store,
		app.Storage,
		extractors,
		prompt.NewBuilder(),
		app.LLMs,
		reconcile.New(reconcile.WithLogger(logger)),
		app.Dispatcher,
		usecase.RetryPolicy{MaxRetries: cfg.PipelineMaxRetries, BaseDelay: cfg.PipelineRetryBase()},
		pipelineOpts...,
	)
	app.IngestUC = usecase.NewIngestDocumentUseCase(app.Store, app.Storage, app.Pipeline, cfg.MaxUploadBytes())
	app.QueryUC = usecase.NewDocumentQueryUseCase(app.Store, app.Catalog)
	app.DiagnosticsUC = usecase.NewDiagnosticsUseCase(app.Catalog, cfg.StuckAfter(), logger)
	app.HousekeepingUC = usecase.NewHousekeepingUseCase(app.Catalog, app.Storage, cfg.MaxRecordAge(), logger)

	logger.Info("app_bootstrapped",
		"store", cfg.StoreBackend,
		"dispatcher", cfg.DispatcherBackend,
		"storage", cfg.StorageBackend,
		"providers", app.LLMs.Providers(),
	)
	return app, nil
}

func (a *App) openRepository(ctx context.Context) (documentRepository, error) {
	switch a.Config.StoreBackend {
	case "badger":
		store, err := badgerdb.Open(a.Config.BadgerPath, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "postgres", "":
		db, err := postgres.OpenDB(a.Config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		repo := postgres.NewDocumentRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "open repository", fmt.Errorf("unknown store backend %q", a.Config.StoreBackend))
	}
}

func (a *App) openStorage(ctx context.Context) (ports.ObjectStorage, error) {
	switch a.Config.StorageBackend {
	case "minio":
		storage, err := s3.New(s3.Config{
			Endpoint:  a.Config.MinioEndpoint,
			AccessKey: a.Config.MinioAccessKey,
			SecretKey: a.Config.MinioSecretKey,
			Bucket:    a.Config.MinioBucket,
			UseSSL:    a.Config.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		return storage, nil
	case "localfs", "":
		storage, err := localfs.New(a.Config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		return storage, nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "open storage", fmt.Errorf("unknown storage backend %q", a.Config.StorageBackend))
	}
}

func (a *App) openDispatcher() (dispatchBackend, error) {
	executor := resilience.NewExecutor(resilience.PublishDefaults(), resilience.WithLogger(a.Logger))
	switch a.Config.DispatcherBackend {
	case "asynq":
		queue := asynqueue.New(asynqueue.Options{
			Addr:        a.Config.RedisAddr,
			Password:    a.Config.RedisPassword,
			DB:          a.Config.RedisDB,
			Concurrency: a.Config.WorkerConcurrency,
			Executor:    executor,
			Logger:      a.Logger,
		})
		a.closers = append(a.closers, queue.Close)
		return queue, nil
	case "nats", "":
		queue, err := nats.NewWithOptions(a.Config.NATSURL, nats.Options{
			Stream:             a.Config.NATSStream,
			SubjectPrefix:      a.Config.NATSSubjectPrefix,
			AckWait:            a.Config.NATSAckWait(),
			Concurrency:        a.Config.WorkerConcurrency,
			ConnectTimeout:     time.Duration(a.Config.NATSConnectTimeout) * time.Millisecond,
			ReconnectWait:      time.Duration(a.Config.NATSReconnectWaitMS) * time.Millisecond,
			MaxReconnects:      a.Config.NATSMaxReconnects,
			ResilienceExecutor: executor,
			Logger:             a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		a.closers = append(a.closers, func() error {
			queue.Close()
			return nil
		})
		if err := queue.EnsureStream(); err != nil {
			return nil, fmt.Errorf("ensure stream: %w", err)
		}
		return queue, nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "open dispatcher", fmt.Errorf("unknown dispatcher backend %q", a.Config.DispatcherBackend))
	}
}

func llmResilienceConfig(cfg config.Config) resilience.Config {
	return resilience.ProviderDefaults().Apply(resilience.Overrides{
		RetryMaxAttempts:        cfg.LLMRetryMaxAttempts,
		BreakerDisabled:         !cfg.LLMBreakerEnabled,
		BreakerMinRequests:      cfg.LLMBreakerMinRequests,
		BreakerFailureRatio:     cfg.LLMBreakerFailureRatio,
		BreakerOpenTimeout:      time.Duration(cfg.LLMBreakerOpenTimeoutSec) * time.Second,
		BreakerHalfOpenMaxCalls: cfg.LLMBreakerHalfOpenMaxCalls,
	})
}

// newLLMRegistry registers every provider. Cloud providers stay registered
// without a configured key since documents may carry their own.
func newLLMRegistry(cfg config.Config, logger *slog.Logger) *llm.Registry {
	executor := resilience.NewExecutor(llmResilienceConfig(cfg), resilience.WithLogger(logger))
	registry := llm.NewRegistry()
	registry.Register(domain.ProviderOllama, ollama.New(cfg.OllamaURL, ollama.Options{
		DefaultModel: cfg.OllamaModel,
		Temperature:  cfg.LLMTemperature,
		Timeout:      cfg.OllamaTimeout(),
		Executor:     executor,
		Logger:       logger,
	}))
	registry.Register(domain.ProviderGemini, gemini.New(gemini.Options{
		APIKey:            cfg.GeminiAPIKey,
		DefaultModel:      cfg.GeminiModel,
		Temperature:       cfg.LLMTemperature,
		Timeout:           cfg.CloudTimeout(),
		RequestsPerMinute: cfg.CloudRequestsPerMin,
		Executor:          executor,
		Logger:            logger,
	}))
	registry.Register(domain.ProviderClaude, claude.New(claude.Options{
		APIKey:            cfg.ClaudeAPIKey,
		DefaultModel:      cfg.ClaudeModel,
		MaxTokens:         cfg.ClaudeMaxTokens,
		Temperature:       cfg.LLMTemperature,
		Timeout:           cfg.CloudTimeout(),
		RequestsPerMinute: cfg.CloudRequestsPerMin,
		Executor:          executor,
		Logger:            logger,
	}))
	return registry
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("app_close_failed", "error", err)
	}
}
