package dto

import (
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

type CreateJobResponse struct {
	JobID string `json:"job_id"`
}

type ListPredictionsRequest struct {
	RequesterRef string `form:"requester_ref"`
	PageSize     int    `form:"page_size"`
	Cursor       string `form:"cursor"`
}

type ListPredictionsResponse struct {
	Predictions []PredictionDTO `json:"predictions"`
	NextCursor  string          `json:"next_cursor,omitempty"`
}

type DetectionDTO struct {
	Class  string  `json:"class"`
	CX     float64 `json:"cx"`
	CY     float64 `json:"cy"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type PredictionDTO struct {
	JobID        string         `json:"job_id"`
	InputRef     string         `json:"input_ref"`
	OutputRef    string         `json:"output_ref"`
	RequesterRef string         `json:"requester_ref"`
	Detections   []DetectionDTO `json:"detections"`
	CompletedAt  string         `json:"completed_at"`
}

// NewPredictionDTO maps a stored summary to its response shape
func NewPredictionDTO(summary *domain.PredictionSummary) PredictionDTO {
	detections := make([]DetectionDTO, len(summary.Detections))
	for i, d := range summary.Detections {
		detections[i] = DetectionDTO{
			Class:  d.ClassLabel,
			CX:     d.CenterX,
			CY:     d.CenterY,
			Width:  d.Width,
			Height: d.Height,
		}
	}

	return PredictionDTO{
		JobID:        summary.JobID,
		InputRef:     summary.InputRef,
		OutputRef:    summary.OutputRef,
		RequesterRef: summary.RequesterRef,
		Detections:   detections,
		CompletedAt:  summary.CompletedAt.UTC().Format(time.RFC3339),
	}
}
