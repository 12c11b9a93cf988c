package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/auth"
	"github.com/ekaya-inc/ekaya-ledger/pkg/config"
	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
	"github.com/ekaya-inc/ekaya-ledger/pkg/handlers"
	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
	"github.com/ekaya-inc/ekaya-ledger/pkg/locks"
	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/messaging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/middleware"
	"github.com/ekaya-inc/ekaya-ledger/pkg/repositories"
	"github.com/ekaya-inc/ekaya-ledger/pkg/retry"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	recorderQueueSize = 256
	readHeaderTimeout = 10 * time.Second
)

func main() {
	// .env is optional; it only helps local development.
	_ = godotenv.Load()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ekaya-ledger stopped", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeURL(cfg.Database.ConnectionString())),
		zap.String("redis", cfg.Redis.Addr()),
		zap.String("amqp", logging.SanitizeURL(cfg.AMQP.URL)),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("ai_model", cfg.AI.Model))

	db, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db.SQLDB(), cfg.MigrationsPath, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	readiness := map[string]handlers.Pinger{"postgres": db}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("Failed to close Redis client", zap.Error(err))
			}
		}()
		readiness["redis"] = handlers.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	locker := newLocker(redisClient, cfg, logger)

	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("create JWKS client: %w", err)
	}
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)

	// Repositories
	eventRepo := repositories.NewEventRepository()
	rawPromptRepo := repositories.NewRawPromptRepository()
	categoryRepo := repositories.NewCategoryRepository()
	userRepo := repositories.NewUserRepository()
	reportRepo := repositories.NewReportRepository()
	aiCallRepo := repositories.NewAICallRepository()

	getUser := services.NewUserContextFunc(db)

	// Model client; every call is recorded unless disabled.
	var recorder llm.ConversationRecorder
	var asyncRecorder *llm.AsyncConversationRecorder
	if cfg.AI.RecordCalls {
		asyncRecorder = llm.NewAsyncConversationRecorder(aiCallRepo, llm.UserContextFunc(getUser), logger, recorderQueueSize)
		recorder = asyncRecorder
	}
	llmClient, err := llm.NewClientFromConfig(ctx, &cfg.AI, recorder, logger)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	// Background jobs
	jobRetry := workqueue.DefaultRetryConfig()
	jobRetry.MaxRetries = cfg.Worker.MaxRetries
	queue := workqueue.New(logger.Named("jobs"),
		workqueue.WithStrategy(workqueue.NewKeyedStrategy(cfg.Worker.Concurrency)),
		workqueue.WithRetryConfig(jobRetry),
		workqueue.WithRetainedTasks(cfg.Worker.RetainedTasks))
	local := services.NewLocalDispatcher(queue, logger)

	var dispatcher services.JobDispatcher = local
	var broker *messaging.Client
	if cfg.AMQP.URL != "" {
		broker, err = messaging.NewClient(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue, cfg.AMQP.Prefetch, logger)
		if err != nil {
			return fmt.Errorf("connect to AMQP broker: %w", err)
		}
		dispatcher = services.NewAMQPDispatcher(broker)
	}

	// Services
	extractionService := services.NewExtractionService(rawPromptRepo, llmClient, getUser, logger)
	categorizationService := services.NewCategorizationService(
		eventRepo, categoryRepo, userRepo, llmClient, locker, dispatcher, getUser, logger)
	local.SetWorkers(extractionService, categorizationService)

	eventService := services.NewEventService(eventRepo, rawPromptRepo, categoryRepo, userRepo, dispatcher, logger)
	categoryService := services.NewCategoryService(categoryRepo, userRepo, locker, logger)
	reportService := services.NewReportService(reportRepo, eventRepo, llmClient, getUser, cfg.Worker.TrendMonths, logger)

	consumerDone := make(chan struct{})
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if broker != nil {
		consumer := services.NewJobConsumer(broker, local, logger)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(consumerCtx); err != nil {
				logger.Error("Job consumer stopped", zap.Error(err))
				stop()
			}
		}()
	} else {
		close(consumerDone)
	}

	// HTTP
	mux := http.NewServeMux()
	userMiddleware := handlers.UserMiddleware(database.WithUserContext(db, logger))

	handlers.NewHealthHandler(cfg, readiness, logger).RegisterRoutes(mux)
	handlers.NewEventHandler(eventService, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewCategoryHandler(categoryService, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewCategorizationHandler(categorizationService, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewReportHandler(reportService, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)
	handlers.NewJobsHandler(local, logger).RegisterRoutes(mux, authMiddleware)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-ledger",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Unacked deliveries go back to the broker once the consumer stops.
	stopConsumer()
	<-consumerDone

	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Job queue did not drain before the deadline", zap.Error(err))
	}
	if broker != nil {
		if err := broker.Close(); err != nil {
			logger.Warn("Failed to close AMQP connection", zap.Error(err))
		}
	}
	if asyncRecorder != nil {
		asyncRecorder.Close()
	}

	logger.Info("ekaya-ledger stopped cleanly")
	return nil
}

// connectDatabase retries the initial connection so the service tolerates a
// database that starts alongside it.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	dbCfg := &database.Config{
		URL:             cfg.Database.ConnectionString(),
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}

	startup := retry.StartupConfig()
	startup.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("Database not reachable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.String("error", logging.SanitizeError(err)))
	}

	db, err := retry.DoWithResult(ctx, startup, func() (*database.DB, error) {
		return database.NewConnection(ctx, dbCfg)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %s", logging.SanitizeError(err))
	}
	return db, nil
}

// newLocker uses Redis when configured so locks hold across instances.
func newLocker(client *redis.Client, cfg *config.Config, logger *zap.Logger) locks.UserLocker {
	if client == nil {
		logger.Info("Redis not configured, using in-process user locks")
		return locks.NewLocalLocker()
	}
	return locks.NewRedisLocker(client, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL, logger)
}
