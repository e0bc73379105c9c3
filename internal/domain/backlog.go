package domain

import "math/big"

// BacklogSample is one observation of queue depth against fleet capacity.
// BacklogPerInstance is meaningful only when Defined is true.
type BacklogSample struct {
	QueueDepth         int
	FleetCapacity      int
	BacklogPerInstance float64
	Defined            bool
}

// Rat returns the exact backlog ratio, or nil when the sample is undefined
func (s BacklogSample) Rat() *big.Rat {
	if !s.Defined {
		return nil
	}
	return big.NewRat(int64(s.QueueDepth), int64(s.FleetCapacity))
}
