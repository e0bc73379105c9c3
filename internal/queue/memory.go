package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// MemoryConfig holds in-process queue settings
type MemoryConfig struct {
	VisibilityTimeout time.Duration
	MaxReceives       int           // 0 disables dead-lettering
	PollInterval      time.Duration // how often a blocked Receive re-checks expired leases
	Now               func() time.Time
}

type memoryMessage struct {
	job      domain.Job
	receives int
	token    string
	deadline time.Time
}

// MemoryQueue is an in-process Client with the same lease semantics as the network backends
type MemoryQueue struct {
	mu           sync.Mutex
	visibility   time.Duration
	maxReceives  int
	pollInterval time.Duration
	now          func() time.Time
	pending      []*memoryMessage
	inflight     map[string]*memoryMessage
	dead         []domain.Job
	wake         chan struct{}
	closed       bool
}

// NewMemoryQueue creates an in-process queue
func NewMemoryQueue(cfg MemoryConfig) *MemoryQueue {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &MemoryQueue{
		visibility:   cfg.VisibilityTimeout,
		maxReceives:  cfg.MaxReceives,
		pollInterval: poll,
		now:          now,
		inflight:     make(map[string]*memoryMessage),
		wake:         make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	if _, err := encodeJob(job); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.NewTransientError(fmt.Errorf("queue closed"))
	}
	q.pending = append(q.pending, &memoryMessage{job: *job})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, maxWait time.Duration) (*domain.JobClaim, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		claim, err := q.tryClaim()
		if err != nil || claim != nil {
			return claim, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

func (q *MemoryQueue) tryClaim() (*domain.JobClaim, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, domain.NewTransientError(fmt.Errorf("queue closed"))
	}

	now := q.now()
	q.requeueExpiredLocked(now)

	if len(q.pending) == 0 {
		return nil, nil
	}

	msg := q.pending[0]
	q.pending = q.pending[1:]
	msg.receives++
	msg.token = uuid.NewString()
	msg.deadline = now.Add(q.visibility)
	q.inflight[msg.token] = msg

	return &domain.JobClaim{
		Job:                msg.job,
		LeaseToken:         msg.token,
		VisibilityDeadline: msg.deadline,
		ReceiveCount:       msg.receives,
	}, nil
}

// requeueExpiredLocked returns lapsed claims to the head of the queue, oldest deadline first
func (q *MemoryQueue) requeueExpiredLocked(now time.Time) {
	var expired []*memoryMessage
	for token, msg := range q.inflight {
		if !now.Before(msg.deadline) {
			expired = append(expired, msg)
			delete(q.inflight, token)
		}
	}
	if len(expired) == 0 {
		return
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].deadline.Before(expired[j].deadline) })

	var requeue []*memoryMessage
	for _, msg := range expired {
		msg.token = ""
		if q.maxReceives > 0 && msg.receives >= q.maxReceives {
			q.dead = append(q.dead, msg.job)
			continue
		}
		requeue = append(requeue, msg)
	}
	q.pending = append(requeue, q.pending...)
}

func (q *MemoryQueue) leaseLocked(claim *domain.JobClaim) (*memoryMessage, error) {
	if q.closed {
		return nil, domain.NewTransientError(fmt.Errorf("queue closed"))
	}
	q.requeueExpiredLocked(q.now())
	msg, ok := q.inflight[claim.LeaseToken]
	if !ok {
		return nil, leaseExpired()
	}
	return msg, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, claim *domain.JobClaim) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.leaseLocked(claim); err != nil {
		return err
	}
	delete(q.inflight, claim.LeaseToken)
	return nil
}

func (q *MemoryQueue) ExtendLease(ctx context.Context, claim *domain.JobClaim, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, err := q.leaseLocked(claim)
	if err != nil {
		return err
	}
	msg.deadline = q.now().Add(d)
	claim.VisibilityDeadline = msg.deadline
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeueExpiredLocked(q.now())
	return len(q.pending), nil
}

// DeadLettered returns the jobs that exceeded the receive limit
func (q *MemoryQueue) DeadLettered() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]domain.Job(nil), q.dead...)
}

// InFlight returns the number of claimed, undeleted jobs
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.inflight)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	return nil
}
