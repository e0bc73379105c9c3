package results

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
	"github.com/cuongbtq/detect-pipeline/internal/metrics"
)

// Cache is the key/value subset of Redis the decorator uses
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// ErrCacheMiss is returned by Cache.Get for absent keys
var ErrCacheMiss = errors.New("cache miss")

type redisCache struct {
	rdb redis.UniversalClient
}

// NewRedisCache adapts a go-redis client to Cache
func NewRedisCache(rdb redis.UniversalClient) Cache {
	return &redisCache{rdb: rdb}
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *redisCache) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

var _ Store = (*CachedStore)(nil)

// CachedStore is a read-through cache in front of another Store.
// Only found summaries are cached; a job still in flight is always read from the inner store.
type CachedStore struct {
	inner  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore decorates inner with cache
func NewCachedStore(inner Store, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedStore{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(jobID string) string { return "prediction:" + jobID }

func (s *CachedStore) Put(ctx context.Context, summary *domain.PredictionSummary) error {
	if err := s.inner.Put(ctx, summary); err != nil {
		return err
	}
	if err := s.cache.Del(ctx, cacheKey(summary.JobID)); err != nil {
		s.logger.Warn("Failed to invalidate cached prediction",
			slog.String("job_id", summary.JobID),
			slog.Any("error", err),
		)
	}
	return nil
}

func (s *CachedStore) Get(ctx context.Context, jobID string) (*domain.PredictionSummary, error) {
	key := cacheKey(jobID)

	val, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var summary domain.PredictionSummary
		if json.Unmarshal([]byte(val), &summary) == nil {
			metrics.IncCacheRequest("prediction", "hit")
			return &summary, nil
		}
	case !errors.Is(err, ErrCacheMiss):
		s.logger.Warn("Prediction cache unavailable", slog.Any("error", err))
	}

	metrics.IncCacheRequest("prediction", "miss")
	summary, err := s.inner.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(summary); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.Warn("Failed to cache prediction",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	}
	return summary, nil
}

// List is not cached; pages shift as jobs complete
func (s *CachedStore) List(ctx context.Context, filter ListFilter) ([]domain.PredictionSummary, error) {
	return s.inner.List(ctx, filter)
}
