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
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/detect-pipeline/internal/bootstrap"
	"github.com/cuongbtq/detect-pipeline/internal/bot"
	"github.com/cuongbtq/detect-pipeline/internal/config"
	"github.com/cuongbtq/detect-pipeline/internal/inference"
	"github.com/cuongbtq/detect-pipeline/internal/metrics"
	"github.com/cuongbtq/detect-pipeline/internal/notifier"
	"github.com/cuongbtq/detect-pipeline/internal/worker"
)

const serviceName = "worker-service"

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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("notifier", cfg.Notifier.Type),
	)

	metrics.MustRegister()
	metrics.SetBuildInfo(serviceName, cfg.App.Version)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	detector, err := initDetector(&cfg.Inference, appLogger.Component("inference"))
	if err != nil {
		return fmt.Errorf("failed to initialize detector: %w", err)
	}

	notify, err := initNotifier(cfg, appLogger.Component("notifier"))
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	if err := os.MkdirAll(cfg.Worker.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:                 appLogger.Component("worker"),
		Queue:                  jobQueue,
		Store:                  objectStore,
		Detector:               detector,
		Results:                resultStore,
		Notifier:               notify,
		WorkDir:                cfg.Worker.WorkDir,
		ReceiveWait:            cfg.Queue.ReceiveWait,
		VisibilityTimeout:      cfg.Queue.VisibilityTimeout,
		LeaseExtensionInterval: cfg.Worker.LeaseExtensionInterval,
		PollBackoff:            cfg.Worker.PollBackoff,
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics.Handler())
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop claiming; the in-flight claim runs to completion
	cancel()

	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, the claim will be redelivered after its lease expires")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server forced to shutdown", slog.Any("error", err))
		}
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initDetector loads the class table and builds the detect command runner
func initDetector(cfg *config.InferenceConfig, logger *slog.Logger) (*inference.CommandDetector, error) {
	names, err := inference.LoadClassNames(cfg.DataFile)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded class names",
		slog.String("data_file", cfg.DataFile),
		slog.Int("classes", len(names)),
	)

	return inference.NewCommandDetector(inference.CommandConfig{
		Command:    cfg.Command,
		Args:       cfg.Args,
		WorkingDir: cfg.WorkingDir,
		ProjectDir: cfg.ProjectDir,
		DataFile:   cfg.DataFile,
		ClassNames: names,
		Timeout:    cfg.Timeout,
		Logger:     logger,
	})
}

// initNotifier builds the completion notifier selected by notifier.type
func initNotifier(cfg *config.Config, logger *slog.Logger) (notifier.Notifier, error) {
	switch cfg.Notifier.Type {
	case config.NotifierCallback:
		return notifier.NewCallback(notifier.CallbackConfig{
			URL:     cfg.Notifier.CallbackURL,
			Timeout: cfg.Notifier.Timeout,
			Logger:  logger,
		})
	case config.NotifierTelegram:
		messenger, err := bot.NewTelegramMessenger(bot.TelegramConfig{
			Token:  cfg.Telegram.Token,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return notifier.NewTelegram(messenger, logger), nil
	default:
		return notifier.None{}, nil
	}
}
