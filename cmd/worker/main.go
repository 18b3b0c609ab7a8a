package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/alerts"
	"github.com/mise-platform/mise/internal/app"
	"github.com/mise-platform/mise/internal/broadcast"
	"github.com/mise-platform/mise/internal/integration"
	"github.com/mise-platform/mise/internal/inventory"
	"github.com/mise-platform/mise/internal/menu"
	"github.com/mise-platform/mise/internal/observability"
	"github.com/mise-platform/mise/internal/orders"
	"github.com/mise-platform/mise/internal/platform/cache"
	"github.com/mise-platform/mise/internal/platform/db"
	"github.com/mise-platform/mise/internal/shared"
	"github.com/mise-platform/mise/jobs"
)

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
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.OtelEndpoint,
		ServiceName: cfg.OtelServiceName + "-worker",
		Insecure:    !cfg.IsProduction(),
	})
	if err != nil {
		logger.Warn("tracing disabled", slog.Any("error", err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "mise-worker"})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := metrics.Jobs()

	// The worker has no SSE clients; events reach them through the shared transport.
	var sinks []broadcast.Sink
	switch cfg.BroadcastTransport {
	case app.TransportRedis:
		sinks = append(sinks, broadcast.NewRedisSink(redisClient, cfg.BroadcastChannel))
	case app.TransportKafka:
		kafkaSink := broadcast.NewKafkaSink(broadcast.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer func() { _ = kafkaSink.Close() }()
		sinks = append(sinks, kafkaSink)
	default:
		logger.Warn("broadcast transport is hub; worker events stay local", slog.String("transport", cfg.BroadcastTransport))
	}
	dispatcher := broadcast.NewDispatcher(broadcast.DispatcherConfig{
		Sinks:  sinks,
		Buffer: cfg.BroadcastBuffer,
		Logger: logger,
		Drops:  jobMetrics,
	})
	dispatcher.Start()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Close(closeCtx)
	}()

	inventoryService := inventory.NewService(inventory.NewRepository(pool), nil, logger)
	menuRepo := menu.NewRepository(pool)
	menuService := menu.NewService(menuRepo, menu.NewManager(menuRepo, menu.ManagerConfig{
		AlertRoles: cfg.LowStockRoles,
		Logger:     logger,
		Metrics:    jobMetrics,
	}), dispatcher)
	engine := integration.NewEngine(integration.EngineConfig{
		Ledger:      inventoryService,
		Menu:        menuService,
		Dispatcher:  dispatcher,
		Idempotency: shared.NewIdempotencyStore(pool),
		Completions: orders.NewRepository(pool),
		Concurrency: cfg.ReconcileConcurrency,
		Logger:      logger,
	})
	inventoryService.SetIntegration(engine.Hooks)

	alertsRepo := alerts.NewRepository(pool)
	monitor := alerts.NewMonitor(alertsRepo, dispatcher, alerts.MonitorConfig{
		Interval:        cfg.LowStockInterval,
		DedupWindow:     cfg.LowStockDedupWindow,
		Expiry:          cfg.LowStockExpiry,
		CriticalPercent: decimal.NewFromFloat(cfg.LowStockCriticalPercent),
		Roles:           cfg.LowStockRoles,
		Locker:          cache.NewLocker(redisClient),
		Metrics:         jobMetrics,
		Logger:          logger,
	})

	sweepJob := jobs.NewLowStockSweepJob(monitor, logger, jobMetrics)
	reconcileJob := jobs.NewReconcileAllJob(engine.Restock, logger, jobMetrics)
	reconcileJob.Replayer = engine.Completion
	reconcileJob.ReplayWindow = cfg.CompletionReplayWindow
	purgeJob := jobs.NewPurgeNotificationsJob(alerts.NewService(alertsRepo, logger), shared.NewIdempotencyStore(pool), logger, jobMetrics)

	reconcileTask, err := jobs.NewReconcileAllTask("cron")
	if err != nil {
		return fmt.Errorf("build reconcile task: %w", err)
	}
	purgeTask, err := jobs.NewPurgeNotificationsTask(7 * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("build purge task: %w", err)
	}
	cron := []jobs.CronRegistration{
		{Spec: cfg.ConvergenceCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: cfg.PurgeCron, Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}
	if cfg.LowStockScheduler == app.SchedulerAsynq {
		sweepTask, err := jobs.NewLowStockSweepTask("cron")
		if err != nil {
			return fmt.Errorf("build sweep task: %w", err)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    "@every " + cfg.LowStockInterval.String(),
			Task:    sweepTask,
			Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(cfg.LowStockInterval)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.ReconcileConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLowStockSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskReconcileAll, Handler: reconcileJob.Handle},
			{Type: jobs.TaskPurgeNotifications, Handler: purgeJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}
	return worker.Run(ctx)
}
