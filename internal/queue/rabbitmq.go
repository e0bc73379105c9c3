package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
	"github.com/cuongbtq/detect-pipeline/shared/rabbitmq"
)

// Broker is the subset of the shared RabbitMQ client the queue needs
type Broker interface {
	Publish(ctx context.Context, body []byte, contentType string) error
	Get() (amqp.Delivery, bool, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
	QueueDepth() (int, error)
	Close() error
}

// RabbitConfig holds RabbitMQ queue settings
type RabbitConfig struct {
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	Logger            *slog.Logger
}

type rabbitLease struct {
	tag      uint64
	deadline time.Time
	timer    *time.Timer
}

// RabbitQueue emulates visibility leases over basic.get: an unacked delivery is
// nacked back onto the queue when its lease timer fires.
type RabbitQueue struct {
	broker       Broker
	logger       *slog.Logger
	visibility   time.Duration
	pollInterval time.Duration

	mu       sync.Mutex
	inflight map[string]*rabbitLease
}

// NewRabbitQueue creates a RabbitMQ-backed queue
func NewRabbitQueue(broker Broker, cfg RabbitConfig) *RabbitQueue {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &RabbitQueue{
		broker:       broker,
		logger:       cfg.Logger,
		visibility:   cfg.VisibilityTimeout,
		pollInterval: poll,
		inflight:     make(map[string]*rabbitLease),
	}
}

func (q *RabbitQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.broker.Publish(ctx, body, ContentType); err != nil {
		return brokerError(fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err))
	}
	return nil
}

func (q *RabbitQueue) Receive(ctx context.Context, maxWait time.Duration) (*domain.JobClaim, error) {
	deadline := time.Now().Add(maxWait)

	for {
		delivery, ok, err := q.broker.Get()
		if err != nil {
			return nil, brokerError(err)
		}

		if ok {
			job, err := decodeJob(delivery.Body)
			if err != nil {
				q.logger.Error("Rejecting malformed job message",
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
					slog.Any("error", err),
				)
				if nackErr := q.broker.Nack(delivery.DeliveryTag, false); nackErr != nil {
					q.logger.Error("Failed to reject malformed message", slog.Any("error", nackErr))
				}
				continue
			}
			return q.lease(job, delivery), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(min(remaining, q.pollInterval)):
		}
	}
}

// brokerError reports a closed connection as domain.ErrConnectionLost; the client
// does not reconnect, so retrying it cannot succeed.
func brokerError(err error) error {
	if errors.Is(err, rabbitmq.ErrNotConnected) {
		return fmt.Errorf("%w: %w", domain.ErrConnectionLost, err)
	}
	return domain.NewTransientError(err)
}

func (q *RabbitQueue) lease(job domain.Job, delivery amqp.Delivery) *domain.JobClaim {
	token := uuid.NewString()
	l := &rabbitLease{
		tag:      delivery.DeliveryTag,
		deadline: time.Now().Add(q.visibility),
	}

	q.mu.Lock()
	q.inflight[token] = l
	l.timer = time.AfterFunc(q.visibility, func() { q.expire(token) })
	q.mu.Unlock()

	return &domain.JobClaim{
		Job:                job,
		LeaseToken:         token,
		VisibilityDeadline: l.deadline,
		ReceiveCount:       receiveCount(delivery),
	}
}

// receiveCount prefers the quorum queue delivery counter, falling back to the redelivered flag
func receiveCount(delivery amqp.Delivery) int {
	switch n := delivery.Headers["x-delivery-count"].(type) {
	case int64:
		return int(n) + 1
	case int32:
		return int(n) + 1
	case int:
		return n + 1
	}
	if delivery.Redelivered {
		return 2
	}
	return 1
}

func (q *RabbitQueue) expire(token string) {
	q.mu.Lock()
	l, ok := q.inflight[token]
	if ok {
		delete(q.inflight, token)
	}
	q.mu.Unlock()

	if !ok {
		return
	}

	q.logger.Warn("Lease expired, returning job to the queue",
		slog.String("lease_token", token),
		slog.Uint64("delivery_tag", l.tag),
	)
	if err := q.broker.Nack(l.tag, true); err != nil {
		q.logger.Error("Failed to requeue expired delivery",
			slog.Uint64("delivery_tag", l.tag),
			slog.Any("error", err),
		)
	}
}

// take removes a live lease; a lease whose timer already fired is gone
func (q *RabbitQueue) take(token string) (*rabbitLease, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.inflight[token]
	if !ok || !l.timer.Stop() {
		return nil, false
	}
	delete(q.inflight, token)
	return l, true
}

func (q *RabbitQueue) Delete(ctx context.Context, claim *domain.JobClaim) error {
	l, ok := q.take(claim.LeaseToken)
	if !ok {
		return leaseExpired()
	}
	if err := q.broker.Ack(l.tag); err != nil {
		return domain.NewTransientError(err)
	}
	return nil
}

func (q *RabbitQueue) ExtendLease(ctx context.Context, claim *domain.JobClaim, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.inflight[claim.LeaseToken]
	if !ok || !l.timer.Stop() {
		return leaseExpired()
	}
	l.deadline = time.Now().Add(d)
	l.timer.Reset(d)
	claim.VisibilityDeadline = l.deadline
	return nil
}

func (q *RabbitQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.broker.QueueDepth()
	if err != nil {
		return 0, brokerError(err)
	}
	return n, nil
}

// Close requeues every outstanding lease and closes the broker connection
func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	leases := q.inflight
	q.inflight = make(map[string]*rabbitLease)
	q.mu.Unlock()

	for _, l := range leases {
		if l.timer.Stop() {
			if err := q.broker.Nack(l.tag, true); err != nil {
				q.logger.Error("Failed to requeue delivery on close", slog.Any("error", err))
			}
		}
	}
	return q.broker.Close()
}
