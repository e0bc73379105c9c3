package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// poll waits up to receiveWait for one claim and processes it.
// It returns an error only when the queue can no longer deliver.
func (w *Worker) poll(ctx context.Context) error {
	claim, err := w.queue.Receive(ctx, w.receiveWait)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrConnectionLost) {
			return fmt.Errorf("failed to receive job: %w", err)
		}
		w.logger.Error("Failed to receive job",
			slog.Any("error", err),
			slog.Duration("retry_after", w.pollBackoff),
		)
		w.backoff(ctx)
		return nil
	}
	if claim == nil {
		return nil
	}

	// Shutdown must not abandon a claim half way; the lease covers redelivery if we die anyway.
	w.handleClaim(context.WithoutCancel(ctx), claim)
	return nil
}

func (w *Worker) backoff(ctx context.Context) {
	timer := time.NewTimer(w.pollBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-w.stopChan:
	case <-timer.C:
	}
}

// keepLeaseAlive extends the claim's visibility window until ctx is done
func (w *Worker) keepLeaseAlive(ctx context.Context, claim *domain.JobClaim, done chan<- struct{}) {
	defer close(done)

	if w.leaseExtensionInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.leaseExtensionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.ExtendLease(ctx, claim, w.visibilityTimeout); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Warn("Failed to extend lease",
					slog.String("job_id", claim.Job.JobID),
					slog.String("lease_token", claim.LeaseToken),
					slog.Any("error", err),
				)
				continue
			}
			w.logger.Debug("Lease extended",
				slog.String("job_id", claim.Job.JobID),
				slog.Time("visibility_deadline", claim.VisibilityDeadline),
			)
		}
	}
}
