package submitter

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
	"github.com/cuongbtq/detect-pipeline/internal/queue"
	"github.com/cuongbtq/detect-pipeline/internal/storage"
	"github.com/cuongbtq/detect-pipeline/shared/logger"
)

type failingStore struct {
	storage.ObjectStore
}

func (failingStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return &domain.StorageError{Key: key, Err: errors.New("bucket unreachable")}
}

type failingQueue struct {
	queue.Client
}

func (failingQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	return domain.NewTransientError(errors.New("broker down"))
}

func newTestQueue() *queue.MemoryQueue {
	return queue.NewMemoryQueue(queue.MemoryConfig{VisibilityTimeout: time.Minute, PollInterval: time.Millisecond})
}

func TestSubmitter_Submit(t *testing.T) {
	store := storage.NewMemoryStore()
	q := newTestQueue()
	s := New(&Config{Logger: logger.NewDiscard(), Store: store, Queue: q})
	ctx := context.Background()

	jobID, err := s.Submit(ctx, SubmitRequest{Data: []byte("img"), Filename: "cat.PNG", RequesterRef: "42"})
	require.NoError(t, err)
	require.Len(t, jobID, 26)

	data, ok := store.Get("photos/" + jobID + ".png")
	require.True(t, ok)
	assert.Equal(t, []byte("img"), data)

	claim, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, jobID, claim.Job.JobID)
	assert.Equal(t, "photos/"+jobID+".png", claim.Job.InputRef)
	assert.Equal(t, "42", claim.Job.RequesterRef)
	assert.False(t, claim.Job.SubmittedAt.IsZero())
}

func TestSubmitter_UniqueKeys(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(&Config{Logger: logger.NewDiscard(), Store: store, Queue: newTestQueue()})

	seen := make(map[string]bool)
	for range 50 {
		jobID, err := s.Submit(context.Background(), SubmitRequest{Data: []byte("img"), RequesterRef: "42"})
		require.NoError(t, err)
		assert.False(t, seen[jobID])
		seen[jobID] = true
	}
	assert.Len(t, store.Keys(), 50)
}

func TestSubmitter_StoreFailureEnqueuesNothing(t *testing.T) {
	q := newTestQueue()
	s := New(&Config{Logger: logger.NewDiscard(), Store: failingStore{}, Queue: q})

	jobID, err := s.Submit(context.Background(), SubmitRequest{Data: []byte("img"), RequesterRef: "42"})
	require.Error(t, err)
	assert.Empty(t, jobID)

	var storageErr *domain.StorageError
	assert.ErrorAs(t, err, &storageErr)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestSubmitter_EnqueueFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(&Config{Logger: logger.NewDiscard(), Store: store, Queue: failingQueue{}})

	_, err := s.Submit(context.Background(), SubmitRequest{Data: []byte("img"), RequesterRef: "42"})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Len(t, store.Keys(), 1)
}

func TestSubmitter_InvalidRequest(t *testing.T) {
	s := New(&Config{Logger: logger.NewDiscard(), Store: storage.NewMemoryStore(), Queue: newTestQueue()})

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{name: "empty data", req: SubmitRequest{RequesterRef: "42"}},
		{name: "empty requester", req: SubmitRequest{Data: []byte("img"), RequesterRef: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, domain.IsPermanent(err))
		})
	}
}

func TestInputKey(t *testing.T) {
	assert.Equal(t, "photos/01J.jpg", InputKey("01J", ""))
	assert.Equal(t, "photos/01J.jpg", InputKey("01J", "file_10.jpg"))
	assert.Equal(t, "photos/01J.png", InputKey("01J", "x/y.PNG"))
}
