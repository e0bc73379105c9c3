// Package bootstrap builds the clients shared by the service binaries from config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/detect-pipeline/internal/config"
	"github.com/cuongbtq/detect-pipeline/internal/queue"
	"github.com/cuongbtq/detect-pipeline/internal/results"
	"github.com/cuongbtq/detect-pipeline/internal/storage"
	"github.com/cuongbtq/detect-pipeline/shared/logger"
	"github.com/cuongbtq/detect-pipeline/shared/postgresql"
	"github.com/cuongbtq/detect-pipeline/shared/rabbitmq"
)

const defaultCacheTTL = 10 * time.Minute

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		EnableStack:  cfg.EnableStackTrace,
		TimeFormat:   time.RFC3339,
		Service:      service,
	}

	return logger.New(loggerCfg)
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		RetryAttempts:   cfg.RetryAttempts,
		RetryInterval:   cfg.RetryInterval,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// RabbitMQConfig maps the rabbitmq section onto the shared client settings
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetter.Exchange,
		DeadLetterQueue:    cfg.DeadLetter.Queue,
		DeliveryLimit:      cfg.Queue.DeliveryLimit,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		ConfirmTimeout:     cfg.Publish.ConfirmTimeout,
	}
}

// InitRedis connects to Redis and verifies the connection with PING
func InitRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	return rdb, nil
}

// InitQueue builds the work queue for the configured backend.
// The returned client owns its broker connection.
func InitQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.Client, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendRabbitMQ:
		client, err := rabbitmq.NewClient(RabbitMQConfig(&cfg.RabbitMQ), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		return queue.NewRabbitQueue(client, queue.RabbitConfig{
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			PollInterval:      cfg.Queue.PollInterval,
			Logger:            logger,
		}), nil

	case config.QueueBackendRedis:
		rdb, err := InitRedis(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis queue: %w", err)
		}
		return queue.NewRedisQueue(rdb, queue.RedisConfig{
			Key:               cfg.Redis.QueueKey,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			MaxReceives:       cfg.Queue.MaxReceives,
			PollInterval:      cfg.Queue.PollInterval,
			Logger:            logger,
		}), nil

	case config.QueueBackendMemory:
		logger.Warn("Using in-process memory queue, jobs are not shared between processes")
		return queue.NewMemoryQueue(queue.MemoryConfig{
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			MaxReceives:       cfg.Queue.MaxReceives,
			PollInterval:      cfg.Queue.PollInterval,
		}), nil

	default:
		return nil, fmt.Errorf("invalid queue backend: %q", cfg.Queue.Backend)
	}
}

// InitObjectStore connects to the object store and creates the bucket if needed
func InitObjectStore(ctx context.Context, cfg *config.ObjectStoreConfig, logger *slog.Logger) (*storage.MinioStore, error) {
	store, err := storage.NewMinioStore(&storage.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// InitResults creates the predictions table and returns the summary store.
// When rdb is not nil, reads go through a Redis cache.
func InitResults(ctx context.Context, db *postgresql.Client, rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) (results.Store, error) {
	pg := results.NewPostgresStore(db.GetDB(), logger)
	if err := pg.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	if rdb == nil {
		return pg, nil
	}

	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger.Info("Prediction cache enabled", slog.Duration("ttl", ttl))
	return results.NewCachedStore(pg, results.NewRedisCache(rdb), ttl, logger), nil
}
