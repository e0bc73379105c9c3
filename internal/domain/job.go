package domain

import (
	"fmt"
	"time"
)

// Job is the message carried by the work queue
type Job struct {
	JobID        string    `json:"job_id"`
	InputRef     string    `json:"input_ref"`
	RequesterRef string    `json:"requester_ref"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Validate checks that the job can be processed by a consumer
func (j Job) Validate() error {
	if j.JobID == "" {
		return NewPermanentError(fmt.Errorf("job_id is required"))
	}
	if j.InputRef == "" {
		return NewPermanentError(fmt.Errorf("input_ref is required for job %s", j.JobID))
	}
	return nil
}

// JobClaim binds one consumer to one Job until the visibility deadline.
// LeaseToken is fresh on every receive and is never the job's identity.
type JobClaim struct {
	Job                Job
	LeaseToken         string
	VisibilityDeadline time.Time
	ReceiveCount       int
}

// Expired reports whether the lease has lapsed at the given instant
func (c *JobClaim) Expired(now time.Time) bool {
	return !now.Before(c.VisibilityDeadline)
}
