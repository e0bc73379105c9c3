// Package worker claims detection jobs one at a time and drives each through
// fetch, inference, persistence, notification and deletion.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/inference"
	"github.com/cuongbtq/detect-pipeline/internal/notifier"
	"github.com/cuongbtq/detect-pipeline/internal/queue"
	"github.com/cuongbtq/detect-pipeline/internal/results"
	"github.com/cuongbtq/detect-pipeline/internal/storage"
)

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Queue    queue.Client
	Store    storage.ObjectStore
	Detector inference.Detector
	Results  results.Store
	Notifier notifier.Notifier

	WorkDir                string
	ReceiveWait            time.Duration
	VisibilityTimeout      time.Duration
	LeaseExtensionInterval time.Duration // 0 disables the lease heartbeat
	PollBackoff            time.Duration
	Now                    func() time.Time
}

// Worker represents the detection job consumer
type Worker struct {
	logger   *slog.Logger
	queue    queue.Client
	store    storage.ObjectStore
	detector inference.Detector
	results  results.Store
	notifier notifier.Notifier

	workDir                string
	receiveWait            time.Duration
	visibilityTimeout      time.Duration
	leaseExtensionInterval time.Duration
	pollBackoff            time.Duration
	now                    func() time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	notify := cfg.Notifier
	if notify == nil {
		notify = notifier.None{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	backoff := cfg.PollBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &Worker{
		logger:                 cfg.Logger,
		queue:                  cfg.Queue,
		store:                  cfg.Store,
		detector:               cfg.Detector,
		results:                cfg.Results,
		notifier:               notify,
		workDir:                cfg.WorkDir,
		receiveWait:            cfg.ReceiveWait,
		visibilityTimeout:      cfg.VisibilityTimeout,
		leaseExtensionInterval: cfg.LeaseExtensionInterval,
		pollBackoff:            backoff,
		now:                    now,
		stopChan:               make(chan struct{}),
	}
}

// Start runs the claim loop until ctx is canceled or Stop is called.
// A claim already in progress is finished before Start returns. It returns an
// error when the queue connection is lost for good.
func (w *Worker) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	w.logger.Info("Starting worker",
		slog.String("work_dir", w.workDir),
		slog.Duration("receive_wait", w.receiveWait),
		slog.Duration("visibility_timeout", w.visibilityTimeout),
		slog.Duration("lease_extension_interval", w.leaseExtensionInterval),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		case <-w.stopChan:
			w.logger.Info("Worker stop requested")
			return nil
		default:
		}

		if err := w.poll(ctx); err != nil {
			w.logger.Error("Worker stopping, queue is unavailable", slog.Any("error", err))
			return err
		}
	}
}

// Stop gracefully stops the worker and waits for the loop to exit
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
