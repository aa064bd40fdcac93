package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"IssueAssembler/internal/config"
	"IssueAssembler/internal/dedup"
	"IssueAssembler/internal/factcheck"
	"IssueAssembler/internal/finalize"
	"IssueAssembler/internal/generation"
	"IssueAssembler/internal/httpapi"
	"IssueAssembler/internal/infrastructure/alert"
	"IssueAssembler/internal/infrastructure/amqp"
	"IssueAssembler/internal/infrastructure/llm"
	"IssueAssembler/internal/infrastructure/lock"
	"IssueAssembler/internal/infrastructure/parser"
	"IssueAssembler/internal/infrastructure/scheduler"
	"IssueAssembler/internal/infrastructure/storage"
	"IssueAssembler/internal/infrastructure/telegram"
	"IssueAssembler/internal/logging"
	"IssueAssembler/internal/modules"
	"IssueAssembler/internal/ports"
	"IssueAssembler/internal/scoring"
	"IssueAssembler/internal/selection"
	"IssueAssembler/internal/usecase"
	"IssueAssembler/internal/workflow"
)

const (
	shutdownTimeout = 30 * time.Second
	rateLimit       = 120
	rateWindow      = time.Minute
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg          config.Config
	logger       *slog.Logger
	db           *sql.DB
	store        *storage.SQLStore
	orchestrator *usecase.Orchestrator
	backfiller   *scoring.Backfiller
	scheduler    *usecase.Scheduler
	ingester     *usecase.Ingester
	redis        *redis.Client
	closers      []func() error
}

// New opens the datastore and builds every collaborator from configuration.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a := &Application{cfg: cfg, logger: baseLogger, db: db}
	a.closers = append(a.closers, db.Close)
	a.store = storage.NewSQLStore(db, cfg.Database.Driver, cfg.Database.PageSize)

	generator := llm.NewChatGPTClient(cfg.LLM)
	registry := modules.NewRegistry(a.store, cfg.Workflow.Lookback)
	batcher := generation.Batcher{Size: cfg.Workflow.BatchSize, Delay: cfg.Workflow.BatchDelay}

	var dedupGenerator ports.Generator
	if cfg.Workflow.AIDedup {
		dedupGenerator = generator
	}

	var locker ports.Locker = lock.NewLocal()
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, a.redis.Close)
		locker = lock.NewRedis(a.redis, cfg.Redis.KeyPrefix)
	}

	a.orchestrator = usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Store:        a.store,
		Registry:     registry,
		Deduplicator: dedup.New(a.store, registry, dedupGenerator, cfg.Workflow.DedupThreshold, baseLogger.With("component", "dedup")),
		Selector:     selection.New(nil),
		Writer:       generation.NewWriter(a.store, registry, generator, batcher, baseLogger.With("component", "generation")),
		Checker:      factcheck.NewChecker(a.store, generator, batcher, cfg.Workflow.FactCheckThreshold, baseLogger.With("component", "factcheck")),
		Finalizer:    finalize.New(a.store, registry, generator, factcheck.ParsePolicy(cfg.Workflow.FactCheckPolicy), baseLogger.With("component", "finalize")),
		Alerter:      a.alerter(),
		Locker:       locker,
		Harness: workflow.Harness{
			MaxRetries:  cfg.Workflow.MaxRetries,
			RetryDelay:  cfg.Workflow.RetryDelay,
			StepTimeout: cfg.Workflow.StepTimeout,
		},
		Logger: baseLogger.With("component", "orchestrator"),
	})
	a.backfiller = scoring.NewBackfiller(a.store, generator, baseLogger.With("component", "backfill"))
	source := parser.NewSource(cfg.Sources, baseLogger.With("component", "source"), parser.NewListingScanner(nil))
	a.ingester = usecase.NewIngester(source, a.store, cfg.Workflow.Lookback, baseLogger.With("component", "ingest"))
	a.scheduler = usecase.NewScheduler(
		scheduler.NewIntervalScheduler(cfg.Scheduler.Interval),
		a.orchestrator,
		a.store,
		cfg.Scheduler.Publications,
		cfg.Scheduler.Location(),
		baseLogger.With("component", "scheduler"),
	)
	if len(cfg.Sources) > 0 {
		a.scheduler.WithIngester(a.ingester)
	}
	return a, nil
}

func (a *Application) alerter() ports.Alerter {
	channels := []ports.Alerter{alert.NewLog(a.logger)}
	if tg := a.cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		channels = append(channels, telegram.NewNotifier(tg.BotToken, tg.ChatID))
	}
	if mq := a.cfg.Notifications.AMQP; mq.URL != "" {
		pub, err := amqp.Dial(mq.URL, mq.Queue)
		if err != nil {
			a.logger.Warn("amqp alerts disabled", "error", err)
		} else {
			a.closers = append(a.closers, pub.Close)
			channels = append(channels, pub)
		}
	}
	return alert.NewMulti(channels...)
}

// Store exposes the datastore for administrative commands.
func (a *Application) Store() *storage.SQLStore { return a.store }

// Orchestrator exposes the assembly use case.
func (a *Application) Orchestrator() *usecase.Orchestrator { return a.orchestrator }

// Backfiller exposes criterion rescoring.
func (a *Application) Backfiller() *scoring.Backfiller { return a.backfiller }

// Ingester exposes listing ingestion.
func (a *Application) Ingester() *usecase.Ingester { return a.ingester }

// Scheduler exposes the daily issue job.
func (a *Application) Scheduler() *usecase.Scheduler { return a.scheduler }

// Serve runs the HTTP API until ctx ends; withScheduler also starts the recurring job.
func (a *Application) Serve(ctx context.Context, withScheduler bool) error {
	opts := httpapi.Options{AllowedOrigins: a.cfg.HTTP.AllowedOrigins}
	if a.redis != nil {
		opts.Limiter = httpapi.RateLimiter(a.redis, a.cfg.Redis.KeyPrefix, rateLimit, rateWindow, a.logger)
	}
	api := httpapi.NewServer(a.orchestrator, a.logger, opts)
	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}

	if withScheduler {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http api listening", "addr", a.cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	var errs []error
	if withScheduler {
		errs = append(errs, a.scheduler.Stop(shutdownCtx))
	}
	errs = append(errs, srv.Shutdown(shutdownCtx), api.Wait(shutdownCtx))
	return errors.Join(errs...)
}

// Schedule runs only the recurring job until ctx ends.
func (a *Application) Schedule(ctx context.Context) error {
	if len(a.cfg.Scheduler.Publications) == 0 {
		return fmt.Errorf("no publications configured for scheduling")
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return a.scheduler.Stop(shutdownCtx)
}

// Close releases every connection opened by New.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
