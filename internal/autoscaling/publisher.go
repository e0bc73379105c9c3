package autoscaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// DepthReader reports approximate queue depth
type DepthReader interface {
	Depth(ctx context.Context) (int, error)
}

// Config holds publisher dependencies
type Config struct {
	Logger       *slog.Logger
	Queue        DepthReader
	Fleets       FleetManager
	Sink         Sink
	Fleet        string
	Interval     time.Duration
	CycleTimeout time.Duration
}

// Publisher samples backlog per instance on a fixed interval
type Publisher struct {
	logger       *slog.Logger
	queue        DepthReader
	fleets       FleetManager
	sink         Sink
	fleet        string
	interval     time.Duration
	cycleTimeout time.Duration
}

// NewPublisher creates a Publisher
func NewPublisher(cfg *Config) *Publisher {
	cycleTimeout := cfg.CycleTimeout
	if cycleTimeout <= 0 {
		cycleTimeout = cfg.Interval
	}
	return &Publisher{
		logger:       cfg.Logger,
		queue:        cfg.Queue,
		fleets:       cfg.Fleets,
		sink:         cfg.Sink,
		fleet:        cfg.Fleet,
		interval:     cfg.Interval,
		cycleTimeout: cycleTimeout,
	}
}

// Run publishes once immediately and then every interval until ctx is done.
// Cycle errors are logged and the loop continues, except a lost queue
// connection, which is returned.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("Starting backlog publisher",
		slog.String("fleet", p.fleet),
		slog.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.cycle(ctx); err != nil {
			p.logger.Error("Stopping backlog publisher, queue is unavailable", slog.Any("error", err))
			return err
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Stopping backlog publisher")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Publisher) cycle(ctx context.Context) error {
	cycleCtx, cancel := context.WithTimeout(ctx, p.cycleTimeout)
	defer cancel()

	_, err := p.RunOnce(cycleCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConnectionLost) {
		return err
	}
	p.logger.Error("Backlog cycle failed",
		slog.String("fleet", p.fleet),
		slog.Any("error", err),
	)
	return nil
}

// RunOnce samples depth and capacity, then publishes or withdraws the signal
func (p *Publisher) RunOnce(ctx context.Context) (domain.BacklogSample, error) {
	depth, err := p.queue.Depth(ctx)
	if err != nil {
		return domain.BacklogSample{}, fmt.Errorf("failed to read queue depth: %w", err)
	}

	capacity, err := p.fleets.Capacity(ctx, p.fleet)
	if err != nil {
		return domain.BacklogSample{}, err
	}

	sample, err := Compute(depth, capacity)
	if err != nil {
		return domain.BacklogSample{}, err
	}

	if !sample.Defined {
		p.logger.Info("Fleet has zero desired capacity, withdrawing backlog signal",
			slog.String("fleet", p.fleet),
			slog.Int("queue_depth", depth),
		)
		if err := p.sink.Withdraw(ctx, p.fleet); err != nil {
			return sample, fmt.Errorf("failed to withdraw backlog signal: %w", err)
		}
		return sample, nil
	}

	if err := p.sink.Publish(ctx, DataPoint{Fleet: p.fleet, Value: sample.BacklogPerInstance}); err != nil {
		return sample, fmt.Errorf("failed to publish backlog signal: %w", err)
	}

	p.logger.Debug("Backlog published",
		slog.String("fleet", p.fleet),
		slog.Int("queue_depth", depth),
		slog.Int("fleet_capacity", capacity),
		slog.Float64("backlog_per_instance", sample.BacklogPerInstance),
	)
	return sample, nil
}
