package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/intake-service/internal/api/http"
	"github.com/spec-kit/intake-service/internal/api/http/handlers"
	"github.com/spec-kit/intake-service/internal/auth"
	"github.com/spec-kit/intake-service/internal/config"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/notify"
	"github.com/spec-kit/intake-service/internal/observability"
	"github.com/spec-kit/intake-service/internal/persistence"
	"github.com/spec-kit/intake-service/internal/queue"
	"github.com/spec-kit/intake-service/internal/repository"
	"github.com/spec-kit/intake-service/internal/service"
	"github.com/spec-kit/intake-service/pkg/util/idgen"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := idgen.Init(cfg.App.NodeID); err != nil {
		logger.Fatal("failed to init id generator", zap.Error(err))
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	stores := repository.NewStores(pg.PoolHandle())
	txRunner := repository.NewTxRunner(pg)
	tokens := service.NewTokenManagerFromConfig(cfg.Auth)

	dispatcher := events.NewInMemoryDispatcher()
	email := notify.NewEmailPublisher(ctx, cfg.AMQP, cfg.Notification.EmailFrom, logger)
	defer email.Close() //nolint:errcheck
	service.NewNotificationService(service.NotificationDependencies{
		Dispatcher:  dispatcher,
		Chat:        notify.NewGraphChatSender(cfg.WhatsApp, logger),
		Email:       email,
		Config:      cfg.Notification,
		FrontendURL: cfg.App.FrontendURL,
		Logger:      logger,
	}).RegisterHandlers()

	producer := queue.NewRedisProducer(redis.Client, queue.ProducerConfig{
		StreamPrefix: cfg.Intake.StreamPrefix,
		Lanes:        cfg.Intake.Lanes,
		DedupTTL:     cfg.Intake.DedupTTL,
	}, logger)
	deadLetters := queue.NewRedisDeadLetterStore(redis.Client, cfg.Intake.DeadLetter, cfg.Intake.StreamPrefix, cfg.Intake.Lanes, logger)

	authService := service.NewAuthService(stores.Accounts(), tokens)
	verificationService := service.NewVerificationService(service.VerificationDependencies{
		Stores:     stores,
		Tx:         txRunner,
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Webhook:        handlers.NewWebhookHandler(service.NewIngestService(producer, metrics, logger), cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret, logger),
		Auth:           handlers.NewAuthHandler(authService),
		Verification:   handlers.NewVerificationHandler(verificationService),
		DeadLetters:    handlers.NewDeadLetterHandler(service.NewDeadLetterService(deadLetters, logger)),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), stores.Accounts()),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
