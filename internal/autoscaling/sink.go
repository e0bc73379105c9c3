package autoscaling

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DataPoint is one published backlog value
type DataPoint struct {
	Fleet string
	Value float64
}

// Sink receives the scaling signal
type Sink interface {
	Publish(ctx context.Context, point DataPoint) error
	// Withdraw removes the fleet's series so no stale value is left behind
	Withdraw(ctx context.Context, fleet string) error
}

// PrometheusSinkConfig holds sink settings
type PrometheusSinkConfig struct {
	MetricName     string
	PushgatewayURL string
	PushJob        string
}

// PrometheusSink exposes backlog_per_instance{fleet} from a dedicated registry
// and optionally pushes it to a Pushgateway after every change.
type PrometheusSink struct {
	registry *prometheus.Registry
	gauge    *prometheus.GaugeVec
	pusher   *push.Pusher
}

// NewPrometheusSink creates a sink with its own registry
func NewPrometheusSink(cfg PrometheusSinkConfig) (*PrometheusSink, error) {
	name := cfg.MetricName
	if name == "" {
		name = "backlog_per_instance"
	}

	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: "Visible queue messages per desired worker instance.",
		},
		[]string{"fleet"},
	)

	registry := prometheus.NewRegistry()
	if err := registry.Register(gauge); err != nil {
		return nil, fmt.Errorf("failed to register backlog gauge: %w", err)
	}

	sink := &PrometheusSink{registry: registry, gauge: gauge}
	if cfg.PushgatewayURL != "" {
		job := cfg.PushJob
		if job == "" {
			job = "metric-streamer"
		}
		sink.pusher = push.New(cfg.PushgatewayURL, job).Gatherer(registry)
	}
	return sink, nil
}

func (s *PrometheusSink) Publish(ctx context.Context, point DataPoint) error {
	s.gauge.WithLabelValues(point.Fleet).Set(point.Value)
	return s.push(ctx)
}

func (s *PrometheusSink) Withdraw(ctx context.Context, fleet string) error {
	s.gauge.DeleteLabelValues(fleet)
	return s.push(ctx)
}

func (s *PrometheusSink) push(ctx context.Context) error {
	if s.pusher == nil {
		return nil
	}
	if err := s.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push to pushgateway: %w", err)
	}
	return nil
}

// Handler serves the sink's registry in the Prometheus exposition format
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the sink's registry
func (s *PrometheusSink) Gatherer() prometheus.Gatherer {
	return s.registry
}
