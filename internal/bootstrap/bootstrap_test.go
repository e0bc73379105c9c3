package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/detect-pipeline/internal/config"
	"github.com/cuongbtq/detect-pipeline/internal/queue"
	"github.com/cuongbtq/detect-pipeline/shared/logger"
)

func TestInitQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("memory backend", func(t *testing.T) {
		cfg := &config.Config{Queue: config.QueueConfig{
			Backend:           config.QueueBackendMemory,
			VisibilityTimeout: time.Minute,
			MaxReceives:       3,
		}}

		q, err := InitQueue(ctx, cfg, logger.NewDiscard())
		require.NoError(t, err)
		t.Cleanup(func() { _ = q.Close() })

		assert.IsType(t, &queue.MemoryQueue{}, q)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := &config.Config{Queue: config.QueueConfig{Backend: "sqs"}}

		q, err := InitQueue(ctx, cfg, logger.NewDiscard())
		require.Error(t, err)
		assert.Nil(t, q)
		assert.Contains(t, err.Error(), `invalid queue backend: "sqs"`)
	})
}

func TestRabbitMQConfig(t *testing.T) {
	cfg := &config.RabbitMQConfig{
		Host:       "rabbit",
		Port:       5672,
		User:       "guest",
		Password:   "guest",
		VHost:      "/",
		Exchange:   config.ExchangeConfig{Name: "detect_exchange", Type: "direct", Durable: true},
		Queue:      config.RabbitQueueConfig{Name: "detect_jobs", Durable: true, DeliveryLimit: 5},
		RoutingKey: "detect.job",
		DeadLetter: config.DeadLetterConfig{Exchange: "detect_dlx", Queue: "detect_jobs_dead"},
		Connection: config.ConnectionConfig{RetryAttempts: 4, RetryInterval: time.Second},
		Publish:    config.PublishConfig{ConfirmTimeout: 3 * time.Second},
	}

	got := RabbitMQConfig(cfg)

	assert.Equal(t, "rabbit", got.Host)
	assert.Equal(t, "detect_exchange", got.ExchangeName)
	assert.Equal(t, "detect_jobs", got.QueueName)
	assert.Equal(t, 5, got.DeliveryLimit)
	assert.Equal(t, "detect_dlx", got.DeadLetterExchange)
	assert.Equal(t, "detect_jobs_dead", got.DeadLetterQueue)
	assert.Equal(t, 4, got.RetryAttempts)
	assert.Equal(t, 3*time.Second, got.ConfirmTimeout)
}

func TestInitLogger(t *testing.T) {
	log, err := InitLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr", EnableStackTrace: true}, "worker-service")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.NoError(t, log.Close())
}
