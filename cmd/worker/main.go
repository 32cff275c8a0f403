package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/billiard-pos/billiard-pos/internal/app"
	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/notify"
	"github.com/billiard-pos/billiard-pos/internal/observability"
	"github.com/billiard-pos/billiard-pos/internal/platform/cache"
	"github.com/billiard-pos/billiard-pos/internal/platform/db"
	"github.com/billiard-pos/billiard-pos/internal/shared"
	"github.com/billiard-pos/billiard-pos/jobs"
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

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var publisher notify.Publisher
	switch cfg.NotifyDriver {
	case app.NotifyKafka:
		kafkaPub := notify.NewKafkaPublisher(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer func() {
			if err := kafkaPub.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPub
	case app.NotifyRedis:
		redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		publisher = notify.NewRedisPublisher(redisClient, cfg.NotifyChannel)
	default:
		publisher = notify.NewLogPublisher(logger)
	}
	emitter := notify.NewEmitter(publisher, logger, observability.NewMetrics(), cfg.NotifyTimeout)

	threshold, err := cfg.Threshold()
	if err != nil {
		logger.Error("parse threshold", slog.Any("error", err))
		os.Exit(1)
	}

	inventoryService := inventory.NewService(inventory.NewRepository(pool, cfg.LockTimeout), nil, nil)
	lowStockJob := jobs.NewLowStockScanJob(inventoryService, emitter, threshold, logger, nil)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), cfg.IdempotencyTTL, logger, nil)

	lowStockTask, err := jobs.NewLowStockScanTask(nil)
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyTTL)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 4 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	runErr := worker.Run(ctx)
	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.NotifyTimeout)
	defer cancel()
	if err := emitter.Wait(waitCtx); err != nil {
		logger.Warn("pending notifications dropped", slog.Any("error", err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("worker run", slog.Any("error", runErr))
		os.Exit(1)
	}
}
