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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/detect-pipeline/internal/autoscaling"
	"github.com/cuongbtq/detect-pipeline/internal/bootstrap"
	"github.com/cuongbtq/detect-pipeline/internal/config"
	"github.com/cuongbtq/detect-pipeline/internal/metrics"
	"github.com/cuongbtq/detect-pipeline/shared/postgresql"
)

const serviceName = "metric-streamer"

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

	defaultConfigPath := os.Getenv("METRIC_STREAMER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/metric-streamer/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateStreamerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting metric streamer",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("fleet", cfg.Autoscaling.FleetName),
		slog.String("fleet_source", cfg.Autoscaling.FleetSource),
		slog.Duration("interval", cfg.Autoscaling.Interval),
	)

	metrics.MustRegister()
	metrics.SetBuildInfo(serviceName, cfg.App.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobQueue, err := bootstrap.InitQueue(ctx, cfg, appLogger.Component("queue"))
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	defer jobQueue.Close()

	fleets, dbClient, err := initFleets(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize fleet source: %w", err)
	}
	if dbClient != nil {
		defer dbClient.Close()
	}

	sink, err := autoscaling.NewPrometheusSink(autoscaling.PrometheusSinkConfig{
		MetricName:     cfg.Autoscaling.MetricName,
		PushgatewayURL: cfg.Autoscaling.PushgatewayURL,
		PushJob:        cfg.Autoscaling.PushJob,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metric sink: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		handler := metrics.Handler(prometheus.DefaultGatherer, sink.Gatherer())
		metricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, handler)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
		appLogger.Info("Serving metrics",
			slog.Int("port", cfg.Metrics.Port),
			slog.String("path", cfg.Metrics.Path),
		)
	}

	publisher := autoscaling.NewPublisher(&autoscaling.Config{
		Logger:       appLogger.Component("autoscaling"),
		Queue:        jobQueue,
		Fleets:       fleets,
		Sink:         sink,
		Fleet:        cfg.Autoscaling.FleetName,
		Interval:     cfg.Autoscaling.Interval,
		CycleTimeout: cfg.Autoscaling.CycleTimeout,
	})

	if err := publisher.Run(ctx); err != nil {
		return fmt.Errorf("publisher stopped: %w", err)
	}

	appLogger.Info("Shutting down metric streamer...")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server forced to shutdown", slog.Any("error", err))
		}
	}

	appLogger.Info("Metric streamer shutdown complete")
	return nil
}

// initFleets returns the desired-capacity source. The database client is nil
// for the static source.
func initFleets(ctx context.Context, cfg *config.Config, logger *slog.Logger) (autoscaling.FleetManager, *postgresql.Client, error) {
	if cfg.Autoscaling.FleetSource == config.FleetSourceStatic {
		logger.Info("Using static fleet capacities", slog.Any("fleets", cfg.Autoscaling.StaticFleets))
		return autoscaling.StaticFleets(cfg.Autoscaling.StaticFleets), nil, nil
	}

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	fleets := autoscaling.NewPostgresFleets(dbClient.GetDB())
	if err := fleets.EnsureSchema(ctx); err != nil {
		dbClient.Close()
		return nil, nil, err
	}

	return fleets, dbClient, nil
}
