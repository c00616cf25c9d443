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
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/taskflow/internal/auth"
	"github.com/kursadbilgin/taskflow/internal/config"
	"github.com/kursadbilgin/taskflow/internal/handler"
	"github.com/kursadbilgin/taskflow/internal/infra/postgresql"
	"github.com/kursadbilgin/taskflow/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/taskflow/internal/infra/redis"
	"github.com/kursadbilgin/taskflow/internal/observability"
	"github.com/kursadbilgin/taskflow/internal/queue"
	"github.com/kursadbilgin/taskflow/internal/repository"
	"github.com/kursadbilgin/taskflow/internal/service"
	"github.com/kursadbilgin/taskflow/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger("taskflow-api", cfg.LogLevel)
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

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()
	publisher := queue.NewRabbitMQPublisher(rabbit)

	metrics := observability.NewMetrics()

	users := repository.NewGormUserRepo(db)
	subscriptions := repository.NewGormSubscriptionRepo(db)
	notifications := repository.NewGormNotificationRepo(db)
	jobs := repository.NewGormDeliveryJobRepo(db)
	attempts := repository.NewGormWebhookAttemptRepo(db)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		logger.Fatal("token issuer initialization failed", zap.Error(err))
	}
	refresher, err := auth.NewRefresher(users, tokens, logger.Named("auth"))
	if err != nil {
		logger.Fatal("refresher initialization failed", zap.Error(err))
	}
	refresher.SetMetrics(metrics)

	notificationService, err := service.NewNotificationService(notifications, jobs, publisher, cfg.DeliveryMaxAttempts, logger.Named("notifications"))
	if err != nil {
		logger.Fatal("notification service initialization failed", zap.Error(err))
	}
	notificationService.SetMetrics(metrics)
	subscriptionService, err := service.NewSubscriptionService(subscriptions, attempts, logger.Named("webhooks"))
	if err != nil {
		logger.Fatal("subscription service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "taskflow-api",
		ErrorHandler: transport.ErrorHandler(logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	app.Use(recover.New())
	app.Use(transport.RequestID())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.BrokerCheck("rabbitmq", rabbit),
	)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	requireAuth := auth.RequireAccessToken(tokens)
	if err := handler.RegisterAuthRoutes(app, refresher, requireAuth); err != nil {
		logger.Fatal("auth routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(app, subscriptionService, requireAuth); err != nil {
		logger.Fatal("webhook routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterNotificationRoutes(app, notificationService, requireAuth); err != nil {
		logger.Fatal("notification routes registration failed", zap.Error(err))
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("taskflow api started", zap.Int("port", cfg.APIPort))
		serveErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	logger.Info("taskflow api stopped")
}
