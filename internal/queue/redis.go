package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// Jobs enter on the left of the pending list and are claimed from the right.
// A claim moves the envelope into the claims hash and scores its token by deadline.
var (
	claimScript = redis.NewScript(`
local msg = redis.call('RPOP', KEYS[1])
if not msg then
	return false
end
local env = cjson.decode(msg)
env.receives = (env.receives or 0) + 1
msg = cjson.encode(env)
redis.call('HSET', KEYS[2], ARGV[1], msg)
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return msg
`)

	deleteScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not score then
	return 0
end
if tonumber(score) <= tonumber(ARGV[2]) then
	return -1
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

	extendScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
	return 0
end
if tonumber(score) <= tonumber(ARGV[2]) then
	return -1
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[3], ARGV[1])
return 1
`)

	requeueScript = redis.NewScript(`
local tokens = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
local limit = tonumber(ARGV[2])
for _, token in ipairs(tokens) do
	local msg = redis.call('HGET', KEYS[2], token)
	redis.call('HDEL', KEYS[2], token)
	redis.call('ZREM', KEYS[3], token)
	if msg then
		local env = cjson.decode(msg)
		if limit > 0 and (env.receives or 0) >= limit then
			redis.call('LPUSH', KEYS[4], msg)
		else
			redis.call('RPUSH', KEYS[1], msg)
		end
	end
end
return #tokens
`)
)

// RedisConfig holds Redis lease queue settings
type RedisConfig struct {
	Key               string
	VisibilityTimeout time.Duration
	MaxReceives       int
	PollInterval      time.Duration
	Logger            *slog.Logger
}

type redisEnvelope struct {
	Receives int    `json:"receives"`
	Body     string `json:"body"`
}

// RedisQueue is a lease queue built from a list, a hash and a sorted set
type RedisQueue struct {
	rdb          redis.UniversalClient
	logger       *slog.Logger
	visibility   time.Duration
	maxReceives  int
	pollInterval time.Duration
	pendingKey   string
	claimsKey    string
	deadlineKey  string
	deadKey      string
}

// NewRedisQueue creates a Redis-backed queue
func NewRedisQueue(rdb redis.UniversalClient, cfg RedisConfig) *RedisQueue {
	key := cfg.Key
	if key == "" {
		key = "detect:jobs"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &RedisQueue{
		rdb:          rdb,
		logger:       cfg.Logger,
		visibility:   cfg.VisibilityTimeout,
		maxReceives:  cfg.MaxReceives,
		pollInterval: poll,
		pendingKey:   key + ":pending",
		claimsKey:    key + ":claims",
		deadlineKey:  key + ":visibility",
		deadKey:      key + ":dead",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}

	env, err := json.Marshal(redisEnvelope{Body: string(body)})
	if err != nil {
		return domain.NewPermanentError(fmt.Errorf("failed to encode envelope: %w", err))
	}

	if err := q.rdb.LPush(ctx, q.pendingKey, env).Err(); err != nil {
		return domain.NewTransientError(fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err))
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, maxWait time.Duration) (*domain.JobClaim, error) {
	deadline := time.Now().Add(maxWait)

	for {
		claim, err := q.tryClaim(ctx)
		if err != nil || claim != nil {
			return claim, err
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

func (q *RedisQueue) tryClaim(ctx context.Context) (*domain.JobClaim, error) {
	if err := q.RequeueExpired(ctx); err != nil {
		return nil, err
	}

	for {
		now := time.Now()
		token := uuid.NewString()
		deadline := now.Add(q.visibility)

		raw, err := claimScript.Run(ctx, q.rdb,
			[]string{q.pendingKey, q.claimsKey, q.deadlineKey},
			token, deadline.UnixMilli(),
		).Text()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, domain.NewTransientError(fmt.Errorf("failed to claim job: %w", err))
		}

		var env redisEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			q.deadLetter(ctx, token, raw, err)
			continue
		}
		job, err := decodeJob([]byte(env.Body))
		if err != nil {
			q.deadLetter(ctx, token, raw, err)
			continue
		}

		return &domain.JobClaim{
			Job:                job,
			LeaseToken:         token,
			VisibilityDeadline: deadline,
			ReceiveCount:       env.Receives,
		}, nil
	}
}

// deadLetter moves an undecodable claimed message to the dead list
func (q *RedisQueue) deadLetter(ctx context.Context, token, raw string, cause error) {
	q.logger.Error("Dead-lettering malformed job message",
		slog.String("lease_token", token),
		slog.Any("error", cause),
	)

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.claimsKey, token)
		pipe.ZRem(ctx, q.deadlineKey, token)
		pipe.LPush(ctx, q.deadKey, raw)
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to dead-letter message",
			slog.String("lease_token", token),
			slog.Any("error", err),
		)
	}
}

// RequeueExpired returns every lapsed claim to the queue, or to the dead list past MaxReceives
func (q *RedisQueue) RequeueExpired(ctx context.Context) error {
	n, err := requeueScript.Run(ctx, q.rdb,
		[]string{q.pendingKey, q.claimsKey, q.deadlineKey, q.deadKey},
		time.Now().UnixMilli(), q.maxReceives,
	).Int()
	if err != nil {
		return domain.NewTransientError(fmt.Errorf("failed to requeue expired claims: %w", err))
	}
	if n > 0 {
		q.logger.Info("Requeued expired claims", slog.Int("count", n))
	}
	return nil
}

func (q *RedisQueue) Delete(ctx context.Context, claim *domain.JobClaim) error {
	res, err := deleteScript.Run(ctx, q.rdb,
		[]string{q.claimsKey, q.deadlineKey},
		claim.LeaseToken, time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return domain.NewTransientError(fmt.Errorf("failed to delete job %s: %w", claim.Job.JobID, err))
	}
	if res != 1 {
		return leaseExpired()
	}
	return nil
}

func (q *RedisQueue) ExtendLease(ctx context.Context, claim *domain.JobClaim, d time.Duration) error {
	now := time.Now()
	deadline := now.Add(d)

	res, err := extendScript.Run(ctx, q.rdb,
		[]string{q.deadlineKey},
		claim.LeaseToken, now.UnixMilli(), deadline.UnixMilli(),
	).Int()
	if err != nil {
		return domain.NewTransientError(fmt.Errorf("failed to extend lease for job %s: %w", claim.Job.JobID, err))
	}
	if res != 1 {
		return leaseExpired()
	}
	claim.VisibilityDeadline = deadline
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.pendingKey).Result()
	if err != nil {
		return 0, domain.NewTransientError(fmt.Errorf("failed to read queue depth: %w", err))
	}
	return int(n), nil
}

// DeadLetterDepth returns the number of dead-lettered messages
func (q *RedisQueue) DeadLetterDepth(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.deadKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read dead-letter depth: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
