// Package submitter turns an uploaded image into a queued detection job.
package submitter

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
	"github.com/cuongbtq/detect-pipeline/internal/queue"
	"github.com/cuongbtq/detect-pipeline/internal/storage"
)

// InputPrefix is the object-store namespace for submitted images
const InputPrefix = "photos/"

// Config holds submitter dependencies
type Config struct {
	Logger *slog.Logger
	Store  storage.ObjectStore
	Queue  queue.Client
	Now    func() time.Time
}

// SubmitRequest is one image to analyse
type SubmitRequest struct {
	Data         []byte
	Filename     string
	ContentType  string
	RequesterRef string
}

// Submitter stores the input artifact and only then enqueues the job
type Submitter struct {
	logger  *slog.Logger
	store   storage.ObjectStore
	queue   queue.Client
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex
}

// New creates a Submitter
func New(cfg *Config) *Submitter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Submitter{
		logger:  cfg.Logger,
		store:   cfg.Store,
		queue:   cfg.Queue,
		now:     now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Submit returns the job id the requester polls results with.
// A StorageError means nothing was enqueued.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", domain.NewPermanentError(fmt.Errorf("image data is empty"))
	}
	if strings.TrimSpace(req.RequesterRef) == "" {
		return "", domain.NewPermanentError(fmt.Errorf("requester_ref is required"))
	}

	submittedAt := s.now().UTC()
	jobID := s.newID(submittedAt)
	key := InputKey(jobID, req.Filename)

	contentType := req.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	if err := s.store.Put(ctx, key, bytes.NewReader(req.Data), int64(len(req.Data)), contentType); err != nil {
		s.logger.Error("Failed to store input image",
			slog.String("job_id", jobID),
			slog.String("key", key),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("failed to store input image: %w", err)
	}

	job := &domain.Job{
		JobID:        jobID,
		InputRef:     key,
		RequesterRef: req.RequesterRef,
		SubmittedAt:  submittedAt,
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("Failed to enqueue job",
			slog.String("job_id", jobID),
			slog.String("input_ref", key),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("input_ref", key),
		slog.String("requester_ref", req.RequesterRef),
		slog.Int("size", len(req.Data)),
	)

	return jobID, nil
}

func (s *Submitter) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// InputKey returns the object key for a submitted image, keeping its extension
func InputKey(jobID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	return InputPrefix + jobID + ext
}
