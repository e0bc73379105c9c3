// Package notifier tells the requester-facing side that a job has completed.
package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// Notifier delivers a completion signal. Delivery is best-effort and may repeat
// for a redelivered job.
type Notifier interface {
	Notify(ctx context.Context, summary *domain.PredictionSummary) error
}

// None discards every notification; requesters poll the result query instead
type None struct{}

func (None) Notify(ctx context.Context, summary *domain.PredictionSummary) error { return nil }

// FormatSummary renders detections as chat text with one line per class
func FormatSummary(summary *domain.PredictionSummary) string {
	order, counts := summary.ClassCounts()
	if len(order) == 0 {
		return "No objects detected."
	}

	var b strings.Builder
	b.WriteString("Detected objects:")
	for _, label := range order {
		fmt.Fprintf(&b, "\n%s: %d", label, counts[label])
	}
	return b.String()
}
