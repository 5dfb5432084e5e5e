package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/p2p/internal/app"
	jobmetrics "github.com/odyssey-erp/p2p/internal/jobs"
	"github.com/odyssey-erp/p2p/internal/platform/cache"
	"github.com/odyssey-erp/p2p/internal/platform/db"
	"github.com/odyssey-erp/p2p/internal/procurement"
	"github.com/odyssey-erp/p2p/internal/reference"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
	"github.com/odyssey-erp/p2p/jobs"
)

// relayUniqueWindow keeps overlapping relay runs from queueing up.
const relayUniqueWindow = 50 * time.Second

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("p2p-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	registry, err := workflow.LoadRegistry(ctx, workflow.NewStatusSource(pool))
	if err != nil {
		logger.Error("load approval statuses", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, reference cache degraded", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := jobs.NewClient(redisOpts, cfg.NotifyMaxRetry)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	workflowRepo := workflow.NewRepository(pool, registry, shared.NewApprovalRecorder(logger))
	engine := workflow.NewEngine(workflowRepo, nil, workflow.NewAssignmentAuthorizer(workflow.NewAssignmentRepository(pool, registry)), queue, logger)

	resolver := reference.NewResolver(reference.NewRepository(pool), reference.NewCache(redisClient, cfg.ReferenceCacheTTL), logger)
	procurementRepo := procurement.NewRepository(pool, registry, workflowRepo, shared.NewAuditLogger())
	procurementService := procurement.NewService(procurementRepo, engine, resolver, nil, logger)

	metrics := jobmetrics.NewMetrics(nil)

	locale, err := language.Parse(cfg.NotifyLocale)
	if err != nil {
		logger.Warn("notify locale", slog.String("locale", cfg.NotifyLocale), slog.Any("error", err))
		locale = language.Indonesian
	}
	dedupe := shared.NewIdempotencyStore(pool)
	mailer, err := jobs.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	if err != nil {
		logger.Error("build mailer", slog.Any("error", err))
		os.Exit(1)
	}
	notifier := &jobs.ReleaseNotifier{
		Orders:     procurementService,
		Types:      resolver,
		Labels:     registry,
		Mailer:     mailer,
		Dedupe:     dedupe,
		Recipients: cfg.NotifyRecipients,
		Language:   locale,
		Logger:     logger,
		Metrics:    metrics,
	}
	relay := &jobs.OutboxRelayJob{Relayer: engine, Logger: logger, Metrics: metrics}
	warmup := &jobs.ReferenceWarmupJob{Catalog: resolver, Logger: logger, Metrics: metrics}
	purge := &jobs.IdempotencyPurgeJob{Store: dedupe, Logger: logger, Metrics: metrics}

	relayTask, err := jobs.NewOutboxRelayTask(cfg.OutboxRelayBatch)
	if err != nil {
		logger.Error("build outbox relay task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewReferenceWarmupTask(false)
	if err != nil {
		logger.Error("build reference warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	purgeTask, err := jobs.NewIdempotencyPurgeTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency purge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReleaseNotification, Handler: notifier.Handle},
			{Type: jobs.TaskOutboxRelay, Handler: relay.Handle},
			{Type: jobs.TaskReferenceWarmup, Handler: warmup.Handle},
			{Type: jobs.TaskIdempotencyPurge, Handler: purge.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OutboxRelayCron, Task: relayTask, Options: []asynq.Option{asynq.MaxRetry(0), asynq.Unique(relayUniqueWindow)}},
			{Spec: cfg.ReferenceWarmCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: cfg.IdempotencyPurgeCron, Task: purgeTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
