package results

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
	"github.com/cuongbtq/detect-pipeline/shared/logger"
)

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	sets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	v, ok := c.values[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.values[key] = string(value)
	c.sets++
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return c.err
}

type countingStore struct {
	Store
	gets int
}

func (s *countingStore) Get(ctx context.Context, jobID string) (*domain.PredictionSummary, error) {
	s.gets++
	return s.Store.Get(ctx, jobID)
}

func testSummary(jobID string) *domain.PredictionSummary {
	return &domain.PredictionSummary{
		JobID:        jobID,
		InputRef:     "photos/" + jobID + ".jpg",
		OutputRef:    "predicted_images/" + jobID + "/input.jpg",
		RequesterRef: "42",
		Detections:   domain.Detections{{ClassLabel: "person", CenterX: 0.5, CenterY: 0.5, Width: 0.2, Height: 0.4}},
		CompletedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "01A")
	assert.ErrorIs(t, err, domain.ErrPredictionNotFound)

	require.NoError(t, store.Put(ctx, testSummary("01A")))

	got, err := store.Get(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, testSummary("01A"), got)
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := testSummary("01A")
	require.NoError(t, store.Put(ctx, first))

	second := testSummary("01A")
	second.Detections = domain.Detections{}
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Get(ctx, "01A")
	require.NoError(t, err)
	assert.Empty(t, got.Detections)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 2, store.Writes("01A"))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, testSummary("01A")))

	got, err := store.Get(ctx, "01A")
	require.NoError(t, err)
	got.Detections[0].ClassLabel = "dog"

	again, err := store.Get(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, "person", again.Detections[0].ClassLabel)
}

func TestCachedStore_ReadThrough(t *testing.T) {
	inner := &countingStore{Store: NewMemoryStore()}
	cache := newFakeCache()
	store := NewCachedStore(inner, cache, time.Minute, logger.NewDiscard())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testSummary("01A")))

	for range 3 {
		got, err := store.Get(ctx, "01A")
		require.NoError(t, err)
		assert.Equal(t, "01A", got.JobID)
		assert.Equal(t, "person", got.Detections[0].ClassLabel)
	}

	assert.Equal(t, 1, inner.gets)
	assert.Equal(t, 1, cache.sets)
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	inner := &countingStore{Store: NewMemoryStore()}
	cache := newFakeCache()
	store := NewCachedStore(inner, cache, time.Minute, logger.NewDiscard())
	ctx := context.Background()

	for range 2 {
		_, err := store.Get(ctx, "01A")
		assert.ErrorIs(t, err, domain.ErrPredictionNotFound)
	}
	assert.Equal(t, 2, inner.gets)
	assert.Equal(t, 0, cache.sets)
}

func TestCachedStore_PutInvalidates(t *testing.T) {
	cache := newFakeCache()
	store := NewCachedStore(NewMemoryStore(), cache, time.Minute, logger.NewDiscard())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testSummary("01A")))
	_, err := store.Get(ctx, "01A")
	require.NoError(t, err)

	updated := testSummary("01A")
	updated.OutputRef = "predicted_images/01A/other.jpg"
	require.NoError(t, store.Put(ctx, updated))

	got, err := store.Get(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, "predicted_images/01A/other.jpg", got.OutputRef)
}

func TestCachedStore_CacheDown(t *testing.T) {
	cache := newFakeCache()
	cache.err = errors.New("connection refused")
	store := NewCachedStore(NewMemoryStore(), cache, time.Minute, logger.NewDiscard())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testSummary("01A")))

	got, err := store.Get(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, "01A", got.JobID)
}

func TestMemoryStore_ListPages(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d"} {
		s := testSummary(id)
		s.CompletedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Put(ctx, s))
	}
	other := testSummary("z")
	other.RequesterRef = "7"
	require.NoError(t, store.Put(ctx, other))

	page, err := store.List(ctx, ListFilter{RequesterRef: "42", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "d", page[0].JobID)
	assert.Equal(t, "c", page[1].JobID)

	last := page[1]
	page, err = store.List(ctx, ListFilter{
		RequesterRef: "42",
		PageSize:     2,
		Cursor:       &Cursor{CompletedAt: last.CompletedAt, JobID: last.JobID},
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].JobID)
	assert.Equal(t, "a", page[1].JobID)
}

func TestCachedStore_ListPassesThrough(t *testing.T) {
	inner := NewMemoryStore()
	store := NewCachedStore(inner, newFakeCache(), time.Minute, logger.NewDiscard())
	require.NoError(t, store.Put(context.Background(), testSummary("a")))

	page, err := store.List(context.Background(), ListFilter{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].JobID)
}
