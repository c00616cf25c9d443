package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/taskflow/internal/config"
	"github.com/kursadbilgin/taskflow/internal/handler"
	"github.com/kursadbilgin/taskflow/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/taskflow/internal/infra/redis"
	"github.com/kursadbilgin/taskflow/internal/observability"
	"github.com/kursadbilgin/taskflow/internal/queue"
	"github.com/kursadbilgin/taskflow/internal/repository"
	"github.com/kursadbilgin/taskflow/internal/service"
	"github.com/kursadbilgin/taskflow/internal/transport"
	"github.com/kursadbilgin/taskflow/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	consumerPrefetch  = 10
	retryScanLimit    = 100
	directoryCacheTTL = time.Minute
	directoryCacheLen = 4096
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger("taskflow-worker", cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolConfig{
		MaxOpenConns:       cfg.DBMaxOpenConns,
		MaxIdleConns:       cfg.DBMaxIdleConns,
		ConnMaxLifetime:    cfg.DBConnMaxLifetime,
		SlowQueryThreshold: cfg.DBSlowQueryThreshold,
	}, logger)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.WebhookRateLimitPerSec, cfg.WebhookRateLimitWait)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()
	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, consumerPrefetch, logger.Named("consumer"))
	defer consumer.Close()

	metrics := observability.NewMetrics()

	users := repository.NewGormUserRepo(db)
	subscriptions := repository.NewGormSubscriptionRepo(db)
	notifications := repository.NewGormNotificationRepo(db)
	jobs := repository.NewGormDeliveryJobRepo(db)
	attempts := repository.NewGormWebhookAttemptRepo(db)

	sender, err := webhook.NewHTTPSender(cfg.WebhookTimeout, cfg.WebhookUserAgent)
	if err != nil {
		logger.Fatal("webhook sender initialization failed", zap.Error(err))
	}
	dispatcher, err := webhook.NewDispatcher(
		subscriptions,
		webhook.NewCachedDirectory(users, directoryCacheLen, directoryCacheTTL),
		sender,
		webhook.NewLinkResolver(cfg.AppBaseURL),
		limiter,
		attempts,
		cfg.WebhookConcurrency,
		logger.Named("webhooks"),
	)
	if err != nil {
		logger.Fatal("webhook dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	worker, err := service.NewDeliveryWorker(
		jobs,
		notifications,
		consumer,
		dispatcher,
		service.DeliveryRetryPolicy(cfg.DeliveryMaxAttempts),
		cfg.WorkerConcurrency,
		logger.Named("delivery"),
	)
	if err != nil {
		logger.Fatal("delivery worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	scanner, err := service.NewRetryScanner(jobs, publisher, cfg.RetryScanInterval, retryScanLimit, logger.Named("retry-scanner"))
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}
	scanner.SetMetrics(metrics)

	ops := fiber.New(fiber.Config{
		AppName:               "taskflow-worker",
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	handler.RegisterHealthRoutes(ops,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.BrokerCheck("rabbitmq", rabbit),
	)
	ops.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(gctx)
	})
	g.Go(func() error {
		return scanner.Start(gctx)
	})
	g.Go(func() error {
		return ops.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return ops.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("taskflow worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("metricsPort", cfg.WorkerMetricsPort),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("taskflow worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("taskflow worker stopped")
}
