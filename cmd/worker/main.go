package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/config"
	"github.com/spec-kit/intake-service/internal/dialog"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/notify"
	"github.com/spec-kit/intake-service/internal/observability"
	"github.com/spec-kit/intake-service/internal/persistence"
	"github.com/spec-kit/intake-service/internal/repository"
	"github.com/spec-kit/intake-service/internal/scoring"
	"github.com/spec-kit/intake-service/internal/service"
	"github.com/spec-kit/intake-service/internal/worker"
	"github.com/spec-kit/intake-service/pkg/util/idgen"
)

const warmupTimeout = 2 * time.Minute

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

	engineDeps, media := buildScoring(ctx, cfg, redis, logger)
	engineDeps.Links = service.NewVerificationLinks(tokens, cfg.App.VerificationURL())
	engineDeps.Logger = logger
	engine := dialog.NewEngine(dialog.Config{
		LegalURL:        cfg.App.LegalURL(),
		VerificationTTL: time.Duration(cfg.Auth.VerificationTTLMinutes) * time.Minute,
	}, engineDeps)

	intake := service.NewIntakeService(service.IntakeDependencies{
		Stores:     stores,
		Tx:         txRunner,
		Engine:     engine,
		Media:      media,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	lanes, err := worker.NewLanePool(ctx, redis.Client, cfg.Intake, intake, metrics, logger)
	if err != nil {
		logger.Fatal("failed to start lanes", zap.Error(err))
	}
	lanes.Start(ctx)

	timerDeps := worker.EscalatorDependencies{
		Stores:     stores,
		Tx:         txRunner,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	}
	escalator := worker.NewSLAEscalator(worker.RulesFromConfig(cfg.SLA), cfg.SLA.Interval, timerDeps)
	go escalator.Run(ctx)
	closer := worker.NewInactivityCloser(cfg.Inactivity.CloseAfter, cfg.Inactivity.Interval, timerDeps)
	go closer.Run(ctx)

	logger.Info("worker started", zap.Int("lanes", cfg.Intake.Lanes))
	waitForShutdown(logger)

	escalator.Stop()
	closer.Stop()
	lanes.Stop()
}

// buildScoring wires knowledge matching, topic classification and media
// resolution. Without an API key the engine runs on keyword classification
// only and audio becomes a failure marker.
func buildScoring(ctx context.Context, cfg *config.Config, redis *persistence.Redis, logger *zap.Logger) (dialog.Dependencies, *scoring.MediaResolver) {
	var deps dialog.Dependencies
	client, enabled := scoring.NewOpenAIClient(cfg.OpenAI)

	var chat scoring.ChatCompleter
	var transcriber scoring.Transcriber
	if enabled {
		chat = scoring.NewOpenAIChat(client, cfg.OpenAI.ChatModel)
		transcriber = scoring.NewOpenAITranscriber(client, cfg.OpenAI.TranscriptionModel)
	} else {
		logger.Warn("openai not configured; knowledge matching and transcription disabled")
	}

	classifier := scoring.NewTopicClassifier(chat, cfg.Knowledge.ClassifierThreshold, logger)
	if err := classifier.Warmup(ctx); err != nil {
		logger.Warn("classifier warmup failed", zap.Error(err))
	}
	deps.Classifier = classifier

	if enabled {
		articles, err := scoring.LoadArticles(cfg.Knowledge.ArticlesPath)
		if err != nil {
			logger.Warn("knowledge base unavailable", zap.Error(err))
		} else {
			matcher := scoring.NewKnowledgeMatcher(articles,
				scoring.NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel),
				scoring.NewRedisEmbeddingCache(redis.Client, cfg.OpenAI.EmbeddingModel),
				cfg.Knowledge.Threshold, logger)
			warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
			err := matcher.Warmup(warmCtx)
			cancel()
			if err != nil {
				logger.Warn("knowledge warmup failed; retrying on first match", zap.Error(err))
			}
			deps.Knowledge = matcher
		}
	}

	return deps, scoring.NewMediaResolver(scoring.NewGraphMediaFetcher(cfg.WhatsApp), transcriber, logger)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
