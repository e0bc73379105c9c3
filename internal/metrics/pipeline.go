package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsProcessedTotal, pipelineStepSeconds, jobsSubmittedTotal) }

// Job outcomes
const (
	OutcomeCompleted     = "completed"
	OutcomeFetchFailed   = "fetch_failed"
	OutcomeInferFailed   = "infer_failed"
	OutcomePersistFailed = "persist_failed"
	OutcomeNotifyFailed  = "notify_failed"
	OutcomeDeleteFailed  = "delete_failed"
)

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detect_jobs_processed_total",
			Help: "Claims processed by the worker, by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineStepSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detect_pipeline_step_seconds",
			Help:    "Duration of each pipeline step.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"step"},
	)

	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detect_jobs_submitted_total",
			Help: "Submissions accepted by the front end, by result.",
		},
		[]string{"result"},
	)
)

// IncJobOutcome counts one processed claim
func IncJobOutcome(outcome string) {
	jobsProcessedTotal.WithLabelValues(norm(outcome)).Inc()
}

// ObserveStep records how long a pipeline step took
func ObserveStep(step string, started time.Time) {
	pipelineStepSeconds.WithLabelValues(norm(step)).Observe(time.Since(started).Seconds())
}

// IncSubmission counts one submission attempt
func IncSubmission(success bool) {
	result := "accepted"
	if !success {
		result = "failed"
	}
	jobsSubmittedTotal.WithLabelValues(result).Inc()
}
