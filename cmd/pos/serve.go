package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/billiard-pos/billiard-pos/internal/app"
	"github.com/billiard-pos/billiard-pos/internal/audit"
	audithttp "github.com/billiard-pos/billiard-pos/internal/audit/http"
	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/menu"
	"github.com/billiard-pos/billiard-pos/internal/notify"
	"github.com/billiard-pos/billiard-pos/internal/observability"
	"github.com/billiard-pos/billiard-pos/internal/orders"
	"github.com/billiard-pos/billiard-pos/internal/platform/cache"
	"github.com/billiard-pos/billiard-pos/internal/platform/db"
	"github.com/billiard-pos/billiard-pos/internal/procurement"
	"github.com/billiard-pos/billiard-pos/internal/shared"
	"github.com/billiard-pos/billiard-pos/jobs"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg, app.NewLogger(cfg, "api"))
		},
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.NotifyDriver == app.NotifyRedis {
		redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	publisher, closePublisher := newPublisher(cfg, redisClient, logger)
	defer closePublisher()

	metrics := observability.NewMetrics()
	emitter := notify.NewEmitter(publisher, logger, metrics, cfg.NotifyTimeout)

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	inventoryRepo := inventory.NewRepository(pool, cfg.LockTimeout)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, metrics)

	menuRepo := menu.NewRepository(pool)
	menuService := menu.NewService(menuRepo, auditLogger)

	ordersRepo := orders.NewRepository(pool, idempotencyStore, cfg.LockTimeout)
	ordersService := orders.NewService(ordersRepo, auditLogger, emitter, metrics, orders.Config{DefaultLocationID: cfg.DefaultLocationID})

	procurementRepo := procurement.NewRepository(pool, idempotencyStore, cfg.LockTimeout)
	procurementService := procurement.NewService(procurementRepo, auditLogger, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Database:           pool,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		MenuHandler:        menu.NewHandler(logger, menuService),
		OrdersHandler:      orders.NewHandler(logger, ordersService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		if err := emitter.Wait(shutdownCtx); err != nil {
			logger.Warn("pending notifications dropped", slog.Any("error", err))
		}
		return nil
	})
	return g.Wait()
}

func newPublisher(cfg *app.Config, redisClient *redis.Client, logger *slog.Logger) (notify.Publisher, func()) {
	switch cfg.NotifyDriver {
	case app.NotifyKafka:
		pub := notify.NewKafkaPublisher(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		return pub, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}
	case app.NotifyRedis:
		return notify.NewRedisPublisher(redisClient, cfg.NotifyChannel), func() {}
	default:
		return notify.NewLogPublisher(logger), func() {}
	}
}
