// Package queue implements the work queue contract with lease (visibility) semantics
// over RabbitMQ, Redis and an in-process backend.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// Client is the contract shared by the submission and consumption paths
type Client interface {
	// Enqueue makes a job available to consumers
	Enqueue(ctx context.Context, job *domain.Job) error
	// Receive blocks up to maxWait for one job. It returns nil, nil on timeout.
	Receive(ctx context.Context, maxWait time.Duration) (*domain.JobClaim, error)
	// Delete removes a claimed job permanently
	Delete(ctx context.Context, claim *domain.JobClaim) error
	// ExtendLease pushes the claim's visibility deadline to now+d
	ExtendLease(ctx context.Context, claim *domain.JobClaim, d time.Duration) error
	// Depth is the approximate number of undelivered jobs
	Depth(ctx context.Context) (int, error)
	Close() error
}

// ContentType of encoded job messages
const ContentType = "application/json"

func encodeJob(job *domain.Job) ([]byte, error) {
	if job == nil {
		return nil, domain.NewPermanentError(fmt.Errorf("job is nil"))
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, domain.NewPermanentError(fmt.Errorf("failed to encode job: %w", err))
	}
	return body, nil
}

func decodeJob(body []byte) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return domain.Job{}, domain.NewPermanentError(fmt.Errorf("failed to decode job: %w", err))
	}
	if err := job.Validate(); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func leaseExpired() error {
	return domain.NewTransientError(domain.ErrLeaseExpired)
}
