package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/cmd/mise/cli"
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
	"github.com/mise-platform/mise/internal/rbac"
	"github.com/mise-platform/mise/internal/shared"
	"github.com/mise-platform/mise/jobs"
)

var version = "dev"

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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, os.Args[2:]))
	}

	if err := serve(ctx, stop, cfg); err != nil {
		slog.Default().Error("mise", slog.Any("error", err))
		os.Exit(1)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.JobsCommand(ctx, cli.JobsOptions{
		Args:       fs.Args(),
		JSONOutput: *jsonOut,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	})
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config) error {
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.OtelEndpoint,
		ServiceName: cfg.OtelServiceName,
		Version:     version,
		Insecure:    !cfg.IsProduction(),
	})
	if err != nil {
		logger.Warn("tracing disabled", slog.Any("error", err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

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

	hub := broadcast.NewHub(logger)
	defer hub.Close()
	var sinks []broadcast.Sink
	switch cfg.BroadcastTransport {
	case app.TransportRedis:
		redisSink := broadcast.NewRedisSink(redisClient, cfg.BroadcastChannel)
		if err := redisSink.Relay(ctx, hub); err != nil {
			return fmt.Errorf("subscribe broadcast channel: %w", err)
		}
		sinks = append(sinks, redisSink)
	case app.TransportKafka:
		writer := broadcast.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		kafkaSink := broadcast.NewKafkaSink(writer)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		sinks = append(sinks, hub, kafkaSink)
	default:
		sinks = append(sinks, hub)
	}
	dispatcher := broadcast.NewDispatcher(broadcast.DispatcherConfig{
		Sinks:  sinks,
		Buffer: cfg.BroadcastBuffer,
		Logger: logger,
		Drops:  jobMetrics,
	})
	dispatcher.Start()

	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, nil, logger)

	menuRepo := menu.NewRepository(dbpool)
	manager := menu.NewManager(menuRepo, menu.ManagerConfig{
		AlertRoles: cfg.LowStockRoles,
		Logger:     logger,
		Metrics:    jobMetrics,
	})
	menuService := menu.NewService(menuRepo, manager, dispatcher)

	ordersRepo := orders.NewRepository(dbpool)
	engine := integration.NewEngine(integration.EngineConfig{
		Ledger:      inventoryService,
		Menu:        menuService,
		Dispatcher:  dispatcher,
		Idempotency: idempotencyStore,
		Completions: ordersRepo,
		Concurrency: cfg.ReconcileConcurrency,
		Logger:      logger,
	})
	hooks := engine.Hooks
	inventoryService.SetIntegration(hooks)

	ordersService := orders.NewService(ordersRepo, hooks, logger)

	alertsRepo := alerts.NewRepository(dbpool)
	alertsService := alerts.NewService(alertsRepo, logger)
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
	if cfg.LowStockScheduler == app.SchedulerInProcess {
		monitor.Start(ctx)
	}

	rbacMiddleware := rbac.Middleware{Gate: rbac.NewHeaderGate(), Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
		Ready: func(ctx context.Context) error {
			return errors.Join(dbpool.Ping(ctx), redisClient.Ping(ctx).Err())
		},
		MenuHandler:      menu.NewHandler(logger, menuService, rbacMiddleware),
		InventoryHandler: inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		OrdersHandler:    orders.NewHandler(logger, ordersService, rbacMiddleware),
		AlertsHandler:    alerts.NewHandler(logger, alertsService, monitor, rbacMiddleware),
		JobHandler:       jobs.NewHandler(inspector, logger),
		EventStream:      broadcast.NewStreamHandler(hub, rbac.Roles, logger),
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
	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.Warn("stop low stock monitor", slog.Any("error", err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("close dispatcher", slog.Any("error", err))
	}
	return nil
}
