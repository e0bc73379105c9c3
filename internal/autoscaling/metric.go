// Package autoscaling turns queue depth and fleet size into the backlog-per-instance
// signal an external autoscaler tracks.
package autoscaling

import (
	"fmt"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// Compute derives the backlog sample for one cycle.
// A zero-capacity fleet yields an undefined sample, never a division.
func Compute(queueDepth, fleetCapacity int) (domain.BacklogSample, error) {
	if queueDepth < 0 {
		return domain.BacklogSample{}, fmt.Errorf("queue depth must not be negative: %d", queueDepth)
	}
	if fleetCapacity < 0 {
		return domain.BacklogSample{}, fmt.Errorf("fleet capacity must not be negative: %d", fleetCapacity)
	}

	sample := domain.BacklogSample{
		QueueDepth:    queueDepth,
		FleetCapacity: fleetCapacity,
	}
	if fleetCapacity == 0 {
		return sample, nil
	}

	sample.BacklogPerInstance = float64(queueDepth) / float64(fleetCapacity)
	sample.Defined = true
	return sample, nil
}
