package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
	"github.com/cuongbtq/detect-pipeline/internal/metrics"
)

// OutputPrefix namespaces annotated images in the object store
const OutputPrefix = "predicted_images/"

// OutputKey returns the artifact key for a job. It is derived from the job id only,
// so a redelivered job overwrites its previous artifact.
func OutputKey(jobID, inputRef string) string {
	return OutputPrefix + jobID + "/" + path.Base(inputRef)
}

// handleClaim processes one claim and records its outcome
func (w *Worker) handleClaim(ctx context.Context, claim *domain.JobClaim) {
	logger := w.logger.With(
		slog.String("job_id", claim.Job.JobID),
		slog.String("lease_token", claim.LeaseToken),
		slog.Int("receive_count", claim.ReceiveCount),
	)
	logger.Info("Processing job")

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go w.keepLeaseAlive(heartbeatCtx, claim, heartbeatDone)

	outcome := w.process(ctx, claim, logger)

	stopHeartbeat()
	<-heartbeatDone

	metrics.IncJobOutcome(outcome)
	logger.Info("Job finished", slog.String("outcome", outcome))
}

// process runs the pipeline. A failure before the summary is stored leaves the
// message on the queue so it becomes claimable again when the lease lapses.
func (w *Worker) process(ctx context.Context, claim *domain.JobClaim, logger *slog.Logger) string {
	summary, outcome, err := w.execute(ctx, claim)
	if err != nil {
		logger.Error("Job processing failed, leaving message for redelivery",
			slog.String("outcome", outcome),
			slog.Bool("transient", domain.IsTransient(err)),
			slog.Any("error", err),
		)
		return outcome
	}

	started := time.Now()
	if err := w.notifier.Notify(ctx, summary); err != nil {
		logger.Warn("Failed to notify requester",
			slog.String("requester_ref", summary.RequesterRef),
			slog.Any("error", err),
		)
		outcome = metrics.OutcomeNotifyFailed
	}
	metrics.ObserveStep("notify", started)

	started = time.Now()
	if err := w.queue.Delete(ctx, claim); err != nil {
		logger.Warn("Failed to delete completed job message",
			slog.Any("error", err),
		)
		return metrics.OutcomeDeleteFailed
	}
	metrics.ObserveStep("delete", started)

	return outcome
}

func (w *Worker) execute(ctx context.Context, claim *domain.JobClaim) (*domain.PredictionSummary, string, error) {
	job := claim.Job

	claimDir := filepath.Join(w.workDir, claim.LeaseToken)
	if err := os.MkdirAll(claimDir, 0o755); err != nil {
		return nil, metrics.OutcomeFetchFailed, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(claimDir); err != nil {
			w.logger.Warn("Failed to remove work dir",
				slog.String("path", claimDir),
				slog.Any("error", err),
			)
		}
	}()

	ext := strings.ToLower(filepath.Ext(job.InputRef))
	if ext == "" {
		ext = ".jpg"
	}
	localPath := filepath.Join(claimDir, "input"+ext)

	started := time.Now()
	if err := w.store.Download(ctx, job.InputRef, localPath); err != nil {
		return nil, metrics.OutcomeFetchFailed, err
	}
	metrics.ObserveStep("fetch", started)

	started = time.Now()
	result, err := w.detector.Detect(ctx, localPath, claim.LeaseToken)
	if err != nil {
		return nil, metrics.OutcomeInferFailed, fmt.Errorf("failed to run detector: %w", err)
	}
	if result.RunDir != "" {
		defer os.RemoveAll(result.RunDir)
	}
	metrics.ObserveStep("infer", started)

	artifact := result.AnnotatedPath
	if artifact == "" {
		artifact = localPath
	}
	outputRef := OutputKey(job.JobID, job.InputRef)

	started = time.Now()
	if err := w.store.Upload(ctx, artifact, outputRef); err != nil {
		return nil, metrics.OutcomePersistFailed, err
	}

	summary := &domain.PredictionSummary{
		JobID:        job.JobID,
		InputRef:     job.InputRef,
		OutputRef:    outputRef,
		RequesterRef: job.RequesterRef,
		Detections:   result.Detections,
		CompletedAt:  w.now().UTC(),
	}
	if err := w.results.Put(ctx, summary); err != nil {
		return nil, metrics.OutcomePersistFailed, fmt.Errorf("failed to store prediction: %w", err)
	}
	metrics.ObserveStep("persist", started)

	return summary, metrics.OutcomeCompleted, nil
}
