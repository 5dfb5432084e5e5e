package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/p2p/internal/app"
	"github.com/odyssey-erp/p2p/internal/billing"
	"github.com/odyssey-erp/p2p/internal/documents"
	"github.com/odyssey-erp/p2p/internal/invoicing"
	"github.com/odyssey-erp/p2p/internal/observability"
	"github.com/odyssey-erp/p2p/internal/platform/cache"
	"github.com/odyssey-erp/p2p/internal/platform/db"
	"github.com/odyssey-erp/p2p/internal/procurement"
	"github.com/odyssey-erp/p2p/internal/receiving"
	"github.com/odyssey-erp/p2p/internal/reference"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
	"github.com/odyssey-erp/p2p/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("p2p-api"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	registry, err := workflow.LoadRegistry(ctx, workflow.NewStatusSource(dbpool))
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

	store, err := newDocumentStore(ctx, cfg)
	if err != nil {
		logger.Error("init document store", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := jobs.NewClient(redisOpts, cfg.NotifyMaxRetry)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger()
	approvalRecorder := shared.NewApprovalRecorder(logger)

	workflowRepo := workflow.NewRepository(dbpool, registry, approvalRecorder)
	assignments := workflow.NewAssignmentRepository(dbpool, registry)
	engine := workflow.NewEngine(workflowRepo, nil, workflow.NewAssignmentAuthorizer(assignments), queue, logger)

	referenceCache := reference.NewCache(redisClient, cfg.ReferenceCacheTTL)
	resolver := reference.NewResolver(reference.NewRepository(dbpool), referenceCache, logger)

	billingRepo := billing.NewRepository(dbpool, registry, auditLogger)
	billingService := billing.NewService(billingRepo, logger)

	procurementRepo := procurement.NewRepository(dbpool, registry, workflowRepo, auditLogger)
	procurementService := procurement.NewService(procurementRepo, engine, resolver, store, logger)

	receivingRepo := receiving.NewRepository(dbpool, billingRepo, workflowRepo)
	receivingService := receiving.NewService(receivingRepo, engine, logger)

	invoicingRepo := invoicing.NewRepository(dbpool, billingRepo, workflowRepo, auditLogger)
	invoicingService := invoicing.NewService(invoicingRepo, engine, logger)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ReferenceHandler:   reference.NewHandler(resolver),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		ReceivingHandler:   receiving.NewHandler(logger, receivingService),
		BillingHandler:     billing.NewHandler(logger, billingService),
		InvoicingHandler:   invoicing.NewHandler(logger, invoicingService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Checks: map[string]app.Pinger{
			"postgres": app.PingFunc(dbpool.Ping),
			"redis":    app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func newDocumentStore(ctx context.Context, cfg *app.Config) (procurement.DocumentStore, error) {
	if cfg.DocumentBackend == "minio" {
		return documents.NewObjectStore(ctx, documents.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, cfg.DocumentMaxBytes)
	}
	return documents.NewFileStore(cfg.DocumentStorageDir, cfg.DocumentMaxBytes)
}
