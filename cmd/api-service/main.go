package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/detect-pipeline/internal/api/handler"
	"github.com/cuongbtq/detect-pipeline/internal/api/router"
	"github.com/cuongbtq/detect-pipeline/internal/bootstrap"
	"github.com/cuongbtq/detect-pipeline/internal/bot"
	"github.com/cuongbtq/detect-pipeline/internal/config"
	"github.com/cuongbtq/detect-pipeline/internal/metrics"
	"github.com/cuongbtq/detect-pipeline/internal/notifier"
	"github.com/cuongbtq/detect-pipeline/internal/submitter"
)

const serviceName = "api-service"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_backend", cfg.Queue.Backend),
	)

	metrics.MustRegister()
	metrics.SetBuildInfo(serviceName, cfg.App.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	var cache redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb, err := bootstrap.InitRedis(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to initialize redis cache: %w", err)
		}
		defer rdb.Close()
		cache = rdb
	}

	resultStore, err := bootstrap.InitResults(ctx, dbClient, cache, cfg.Redis.CacheTTL, appLogger.Component("results"))
	if err != nil {
		return fmt.Errorf("failed to initialize result store: %w", err)
	}

	objectStore, err := bootstrap.InitObjectStore(ctx, &cfg.ObjectStore, appLogger.Component("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	jobQueue, err := bootstrap.InitQueue(ctx, cfg, appLogger.Component("queue"))
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	defer jobQueue.Close()

	appLogger.Info("Backing services connected")

	sub := submitter.New(&submitter.Config{
		Logger: appLogger.Component("submitter"),
		Store:  objectStore,
		Queue:  jobQueue,
	})

	// Depth fails once the broker connection is gone for good
	healthCheck := func(ctx context.Context) error {
		if err := dbClient.HealthCheck(ctx); err != nil {
			return err
		}
		_, err := jobQueue.Depth(ctx)
		return err
	}

	deps := &handler.Dependencies{
		Logger:         appLogger.Logger,
		Submitter:      sub,
		Results:        resultStore,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		HealthCheck:    healthCheck,
	}

	if cfg.Telegram.Token != "" {
		if err := initBot(ctx, &cfg.Telegram, deps, sub, appLogger.Component("bot")); err != nil {
			return fmt.Errorf("failed to initialize telegram bot: %w", err)
		}
	}

	r := initRouter(cfg, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-errChan:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initBot wires the chat front end: updates arrive on the webhook route when a
// public URL is configured, otherwise through long polling.
func initBot(ctx context.Context, cfg *config.TelegramConfig, deps *handler.Dependencies, sub *submitter.Submitter, logger *slog.Logger) error {
	messenger, err := bot.NewTelegramMessenger(bot.TelegramConfig{
		Token:  cfg.Token,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	dispatcher := bot.NewDispatcher(messenger, sub, logger)

	deps.Updates = dispatcher
	deps.ResultNotifier = notifier.NewTelegram(messenger, logger)
	deps.BotToken = cfg.Token

	if cfg.WebhookURL == "" {
		go func() {
			if err := messenger.Poll(ctx, dispatcher.HandleUpdate); err != nil {
				logger.Error("Telegram polling stopped", slog.Any("error", err))
			}
		}()
		return nil
	}

	if cfg.SetWebhook {
		webhook := strings.TrimRight(cfg.WebhookURL, "/") + "/telegram/" + cfg.Token
		if err := messenger.SetWebhook(webhook); err != nil {
			return err
		}
		logger.Info("Receiving updates by webhook", slog.String("base_url", cfg.WebhookURL))
	}
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	opts := router.Options{ServiceName: serviceName}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
		opts.MetricsHandler = metrics.Handler()
	}

	return router.SetupRouter(deps, opts)
}
